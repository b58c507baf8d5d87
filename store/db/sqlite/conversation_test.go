package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/convsync/internal/profile"
	"github.com/hrygo/convsync/store"
)

func newTestDB(t *testing.T) store.Driver {
	t.Helper()
	driver, err := NewDB(&profile.Profile{Driver: "sqlite", DSN: profile.MemoryDSN})
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { _ = driver.Close() })
	return driver
}

func countRows(t *testing.T, driver store.Driver) int {
	t.Helper()
	var n int
	require.NoError(t, driver.GetDB().QueryRow(`SELECT COUNT(*) FROM conversation`).Scan(&n))
	return n
}

func TestReplaceConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("SwapsRows", func(t *testing.T) {
		driver := newTestDB(t)
		_, err := driver.CreateConversation(ctx, &store.Conversation{
			ID: "p2p-1", Name: "Bob", Kind: store.KindDirect, ParticipantIDs: []string{"me", "bob"}, CreatedTs: 10,
		})
		require.NoError(t, err)

		err = driver.ReplaceConversation(ctx, &store.ReplaceConversation{
			OldID: "p2p-1",
			New: &store.Conversation{
				ID: "grp-1", Name: "Bob", Kind: store.KindGroup, ParticipantIDs: []string{"me", "bob", "carol"}, CreatedTs: 10,
			},
		})
		require.NoError(t, err)

		list, err := driver.ListConversations(ctx, &store.FindConversation{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "grp-1", list[0].ID)
		assert.Equal(t, store.KindGroup, list[0].Kind)
		assert.Equal(t, []string{"me", "bob", "carol"}, list[0].ParticipantIDs)
	})

	t.Run("MissingOldRowRollsBack", func(t *testing.T) {
		driver := newTestDB(t)
		err := driver.ReplaceConversation(ctx, &store.ReplaceConversation{
			OldID: "gone",
			New:   &store.Conversation{ID: "grp-1", Name: "Orphan", Kind: store.KindGroup, CreatedTs: 1},
		})
		assert.ErrorIs(t, err, sql.ErrNoRows)
		assert.Zero(t, countRows(t, driver), "group insert is rolled back")
	})

	t.Run("DuplicateNewIDKeepsOldRow", func(t *testing.T) {
		driver := newTestDB(t)
		for _, id := range []string{"p2p-1", "grp-1"} {
			_, err := driver.CreateConversation(ctx, &store.Conversation{ID: id, Name: id, Kind: store.KindDirect, CreatedTs: 1})
			require.NoError(t, err)
		}

		err := driver.ReplaceConversation(ctx, &store.ReplaceConversation{
			OldID: "p2p-1",
			New:   &store.Conversation{ID: "grp-1", Name: "Clash", Kind: store.KindGroup, CreatedTs: 1},
		})
		require.Error(t, err)
		assert.Equal(t, 2, countRows(t, driver))
		old, err := driver.ListConversations(ctx, &store.FindConversation{ID: ptr("p2p-1")})
		require.NoError(t, err)
		assert.Len(t, old, 1)
	})
}

func ptr[T any](v T) *T { return &v }
