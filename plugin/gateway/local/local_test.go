package local

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/convsync/internal/profile"
	"github.com/hrygo/convsync/plugin/gateway"
	"github.com/hrygo/convsync/store"
	"github.com/hrygo/convsync/store/db"
)

func newTestGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	ctx := context.Background()

	driver, err := db.NewDBDriver(&profile.Profile{Driver: "sqlite", DSN: profile.MemoryDSN})
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(ctx))
	t.Cleanup(func() { _ = driver.Close() })

	// A frozen clock makes created_ts collide, exercising the tie-breaker.
	frozen := time.UnixMilli(1_700_000_000_000)
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return frozen }),
	}
	g := New(driver, append(base, opts...)...)
	t.Cleanup(g.Close)
	return g
}

func receive(t *testing.T, ch <-chan gateway.Event) gateway.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return gateway.Event{}
	}
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	first, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "First", ParticipantIDs: []string{"me", "bob"}})
	require.NoError(t, err)
	second, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "  ", Kind: store.KindGroup})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.ID, "conv-"))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, store.DefaultConversationName, second.Name)
	assert.Equal(t, store.KindGroup, second.Kind)

	records, err := g.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID, "newest first")
	assert.Equal(t, []string{"me", "bob"}, records[1].ParticipantIDs)
	assert.True(t, records[1].LastMessageAt.IsZero())
}

func TestModelLabel(t *testing.T) {
	ctx := context.Background()

	t.Run("OnlyAIConversationsGetDefault", func(t *testing.T) {
		g := newTestGateway(t, WithDefaultModel("llama-3"))

		ai, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Assistant", ParticipantIDs: []string{"me", "ai:llm"}})
		require.NoError(t, err)
		human, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Bob", ParticipantIDs: []string{"me", "bob"}})
		require.NoError(t, err)

		assert.Equal(t, "llama-3", ai.ModelLabel)
		assert.Empty(t, human.ModelLabel)
	})

	t.Run("UnresolvedStaysEmpty", func(t *testing.T) {
		g := newTestGateway(t)
		ai, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Assistant", ParticipantIDs: []string{"ai:llm"}})
		require.NoError(t, err)
		assert.Empty(t, ai.ModelLabel)
	})

	t.Run("SetDefaultModelRelabelsAndPublishes", func(t *testing.T) {
		g := newTestGateway(t, WithDefaultModel("old"))
		ai, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "A", ParticipantIDs: []string{"ai:llm"}})
		require.NoError(t, err)
		_, err = g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "B", ParticipantIDs: []string{"bob"}})
		require.NoError(t, err)

		events, err := g.Subscribe(ctx)
		require.NoError(t, err)

		n, err := g.SetDefaultModel(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ev := receive(t, events)
		assert.Equal(t, gateway.EventDefaultModelChanged, ev.Type)
		require.NotNil(t, ev.ModelChanged)
		assert.Equal(t, "new", ev.ModelChanged.ModelLabel)

		records, err := g.ListConversations(ctx)
		require.NoError(t, err)
		for _, rec := range records {
			if rec.ID == ai.ID {
				assert.Equal(t, "new", rec.ModelLabel)
			} else {
				assert.Empty(t, rec.ModelLabel)
			}
		}
	})
}

func TestAddParticipants(t *testing.T) {
	ctx := context.Background()

	t.Run("DirectToGroupConversion", func(t *testing.T) {
		g := newTestGateway(t)
		direct, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Bob", ParticipantIDs: []string{"me", "bob"}})
		require.NoError(t, err)
		other, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Other"})
		require.NoError(t, err)

		events, err := g.Subscribe(ctx)
		require.NoError(t, err)

		resp, err := g.AddParticipants(ctx, &gateway.AddParticipantsRequest{ConversationID: direct.ID, ParticipantIDs: []string{"carol", "bob"}})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(resp.NewConversationID, "grp-"))

		ev := receive(t, events)
		assert.Equal(t, gateway.EventP2PConvertedToGroup, ev.Type)
		require.NotNil(t, ev.Conversion)
		assert.Equal(t, direct.ID, ev.Conversion.OldConversationID)
		assert.Equal(t, resp.NewConversationID, ev.Conversion.NewConversationID)
		assert.Equal(t, []string{"me", "bob", "carol"}, ev.Conversion.ParticipantIDs)
		assert.Positive(t, ev.Seq)

		records, err := g.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, other.ID, records[0].ID)
		assert.Equal(t, resp.NewConversationID, records[1].ID, "group keeps the old position")
		assert.Equal(t, store.KindGroup, records[1].Kind)
		assert.Equal(t, "Bob", records[1].Name)
	})

	t.Run("StaysDirect", func(t *testing.T) {
		g := newTestGateway(t)
		direct, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Solo", ParticipantIDs: []string{"me"}})
		require.NoError(t, err)

		resp, err := g.AddParticipants(ctx, &gateway.AddParticipantsRequest{ConversationID: direct.ID, ParticipantIDs: []string{"bob"}})
		require.NoError(t, err)
		assert.Empty(t, resp.NewConversationID)

		records, err := g.ListConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"me", "bob"}, records[0].ParticipantIDs)
		assert.Equal(t, store.KindDirect, records[0].Kind)
	})

	t.Run("AddingAIResolvesModel", func(t *testing.T) {
		g := newTestGateway(t, WithDefaultModel("llama-3"))
		grp, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Team", Kind: store.KindGroup, ParticipantIDs: []string{"me", "bob"}})
		require.NoError(t, err)

		_, err = g.AddParticipants(ctx, &gateway.AddParticipantsRequest{ConversationID: grp.ID, ParticipantIDs: []string{"ai:llm"}})
		require.NoError(t, err)

		records, err := g.ListConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, "llama-3", records[0].ModelLabel)
	})

	t.Run("Unknown", func(t *testing.T) {
		g := newTestGateway(t)
		_, err := g.AddParticipants(ctx, &gateway.AddParticipantsRequest{ConversationID: "missing", ParticipantIDs: []string{"x"}})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRenameAndDelete(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	rec, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Old"})
	require.NoError(t, err)

	require.NoError(t, g.RenameConversation(ctx, &gateway.RenameConversationRequest{ConversationID: rec.ID, Name: "New"}))
	records, err := g.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, "New", records[0].Name)

	assert.Error(t, g.RenameConversation(ctx, &gateway.RenameConversationRequest{ConversationID: rec.ID, Name: " "}))
	assert.ErrorIs(t, g.RenameConversation(ctx, &gateway.RenameConversationRequest{ConversationID: "missing", Name: "x"}), ErrNotFound)

	require.NoError(t, g.DeleteConversation(ctx, rec.ID))
	assert.ErrorIs(t, g.DeleteConversation(ctx, rec.ID), ErrNotFound)

	records, err = g.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPostMessages(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	rec, err := g.CreateConversation(ctx, &gateway.CreateConversationRequest{Name: "Chat"})
	require.NoError(t, err)

	events, err := g.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, g.PostMessages(ctx, rec.ID,
		store.Message{Content: "first"},
		store.Message{Text: "**second**"},
	))

	ev := receive(t, events)
	assert.Equal(t, gateway.EventNewMessages, ev.Type)
	require.NotNil(t, ev.NewMessages)
	assert.Equal(t, rec.ID, ev.NewMessages.ConversationID)
	assert.Len(t, ev.NewMessages.Messages, 2)

	records, err := g.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, "**second**", records[0].LastMessagePreview)
	assert.Equal(t, int64(1_700_000_000_000), records[0].LastMessageAt.UnixMilli())

	assert.NoError(t, g.PostMessages(ctx, rec.ID))
	assert.ErrorIs(t, g.PostMessages(ctx, "missing", store.Message{Content: "x"}), ErrNotFound)
}

func TestSubscribeEndsWithContext(t *testing.T) {
	g := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := g.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Hub().Subscribers())

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, g.Hub().Subscribers())
}
