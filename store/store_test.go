package store

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(records []ConversationRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestStoreLoad(t *testing.T) {
	t.Run("ReplacesContent", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}, {ID: "b"}})
		res := s.Load([]ConversationRecord{{ID: "c", Name: "Carol"}})

		assert.Equal(t, 1, res.Loaded)
		assert.Equal(t, []string{"c"}, ids(s.All()))
	})

	t.Run("RejectsMissingID", func(t *testing.T) {
		s := New()
		res := s.Load([]ConversationRecord{{ID: "a"}, {Name: "broken"}, {ID: "  "}, {ID: "b"}})

		assert.Equal(t, 2, res.Loaded)
		require.Len(t, res.Rejected, 2)
		assert.Equal(t, 1, res.Rejected[0].Index)
		assert.Equal(t, 2, res.Rejected[1].Index)
		assert.ErrorIs(t, res.Rejected[0].Err, ErrMissingID)
		assert.Equal(t, []string{"a", "b"}, ids(s.All()))
	})

	t.Run("DuplicateIDsCollapse", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a", Name: "first"}, {ID: "b"}, {ID: "a", Name: "second"}})

		assert.Equal(t, []string{"a", "b"}, ids(s.All()))
		rec, _ := s.Get("a")
		assert.Equal(t, "second", rec.Name)
	})

	t.Run("PreservesProcessingForSurvivors", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "x"}, {ID: "y"}})
		s.SetProcessing("x", true)
		s.SetProcessing("y", true)

		s.Load([]ConversationRecord{{ID: "x", Name: "still here"}})

		assert.True(t, s.IsProcessing("x"))
		assert.False(t, s.IsProcessing("y"))
		assert.Equal(t, map[string]bool{"x": true}, s.ProcessingIDs())
	})

	t.Run("RetainsPendingAtHead", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}})
		require.NoError(t, s.Upsert(ConversationRecord{ID: "temp", IsPending: true}))

		res := s.Load([]ConversationRecord{{ID: "a"}, {ID: "b"}})

		assert.Equal(t, 1, res.Retained)
		assert.Equal(t, []string{"temp", "a", "b"}, ids(s.All()))
		assert.Equal(t, []string{"temp"}, s.Pending())
	})

	t.Run("BackendConfirmsPending", func(t *testing.T) {
		s := New()
		require.NoError(t, s.Upsert(ConversationRecord{ID: "x", IsPending: true}))

		s.Load([]ConversationRecord{{ID: "x", Name: "confirmed", IsPending: true}})

		rec, _ := s.Get("x")
		assert.False(t, rec.IsPending)
		assert.Empty(t, s.Pending())
	})

	t.Run("KeepsNewerLocalPreview", func(t *testing.T) {
		old := time.Unix(100, 0)
		newer := time.Unix(200, 0)
		s := New()
		s.Load([]ConversationRecord{{ID: "a", LastMessagePreview: "old", LastMessageAt: old}})
		s.Update("a", func(r *ConversationRecord) {
			r.LastMessagePreview = "fresh"
			r.LastMessageAt = newer
		})

		s.Load([]ConversationRecord{{ID: "a", LastMessagePreview: "old", LastMessageAt: old}})
		rec, _ := s.Get("a")
		assert.Equal(t, "fresh", rec.LastMessagePreview)
		assert.Equal(t, newer, rec.LastMessageAt)

		latest := time.Unix(300, 0)
		s.Load([]ConversationRecord{{ID: "a", LastMessagePreview: "backend", LastMessageAt: latest}})
		rec, _ = s.Get("a")
		assert.Equal(t, "backend", rec.LastMessagePreview)
	})

	t.Run("NormalizesKind", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a", Kind: "GROUP"}, {ID: "b", Kind: "weird"}})

		a, _ := s.Get("a")
		b, _ := s.Get("b")
		assert.Equal(t, KindGroup, a.Kind)
		assert.Equal(t, KindDirect, b.Kind)
	})
}

func TestStoreMutations(t *testing.T) {
	t.Run("UpsertInsertsAtHeadAndReplacesInPlace", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}, {ID: "b"}})

		require.NoError(t, s.Upsert(ConversationRecord{ID: "c"}))
		assert.Equal(t, []string{"c", "a", "b"}, ids(s.All()))

		require.NoError(t, s.Upsert(ConversationRecord{ID: "b", Name: "Bob"}))
		assert.Equal(t, []string{"c", "a", "b"}, ids(s.All()))
		rec, _ := s.Get("b")
		assert.Equal(t, "Bob", rec.Name)
	})

	t.Run("UpsertRejectsMissingID", func(t *testing.T) {
		s := New()
		assert.ErrorIs(t, s.Upsert(ConversationRecord{Name: "x"}), ErrMissingID)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}})
		s.SetProcessing("a", true)

		s.Remove("a")
		s.Remove("a")
		s.Remove("missing")
		assert.Equal(t, 0, s.Len())
		assert.False(t, s.IsProcessing("a"))
	})

	t.Run("TakeAndInsertAt", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}})

		rec, idx, ok := s.Take("b")
		require.True(t, ok)
		assert.Equal(t, 1, idx)
		assert.Equal(t, []string{"a", "c"}, ids(s.All()))

		require.NoError(t, s.InsertAt(idx, rec))
		assert.Equal(t, []string{"a", "b", "c"}, ids(s.All()))

		require.NoError(t, s.InsertAt(99, ConversationRecord{ID: "z"}))
		assert.Equal(t, "z", s.All()[3].ID)

		_, _, ok = s.Take("missing")
		assert.False(t, ok)
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		s := New()
		assert.False(t, s.Update("missing", func(*ConversationRecord) {}))
	})

	t.Run("UpdateCannotChangeID", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}})
		s.Update("a", func(r *ConversationRecord) { r.ID = "b" })

		_, ok := s.Get("a")
		assert.True(t, ok)
		_, ok = s.Get("b")
		assert.False(t, ok)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a", ParticipantIDs: []string{"u1"}}})

		rec, _ := s.Get("a")
		rec.ParticipantIDs[0] = "mutated"
		all := s.All()
		all[0].Name = "mutated"

		again, _ := s.Get("a")
		assert.Equal(t, []string{"u1"}, again.ParticipantIDs)
		assert.Empty(t, again.Name)
	})

	t.Run("SetProcessingUnknown", func(t *testing.T) {
		s := New()
		assert.False(t, s.SetProcessing("missing", true))
		assert.Empty(t, s.ProcessingIDs())
	})
}

func TestStoreReplace(t *testing.T) {
	t.Run("RemapKeepsPositionAndProcessing", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}, {ID: "b"}})
		require.NoError(t, s.Upsert(ConversationRecord{ID: "temp", IsPending: true}))
		s.SetProcessing("temp", true)

		require.NoError(t, s.Replace("temp", ConversationRecord{ID: "conv-1"}))

		assert.Equal(t, []string{"conv-1", "a", "b"}, ids(s.All()))
		assert.True(t, s.IsProcessing("conv-1"))
		assert.False(t, s.IsProcessing("temp"))
		_, ok := s.Get("temp")
		assert.False(t, ok)
	})

	t.Run("SameID", func(t *testing.T) {
		s := New()
		require.NoError(t, s.Upsert(ConversationRecord{ID: "x", IsPending: true}))

		require.NoError(t, s.Replace("x", ConversationRecord{ID: "x"}))
		rec, _ := s.Get("x")
		assert.False(t, rec.IsPending)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("TargetAlreadyPresent", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}, {ID: "conv-1", Name: "old"}})

		require.NoError(t, s.Replace("a", ConversationRecord{ID: "conv-1", Name: "new"}))

		assert.Equal(t, []string{"conv-1"}, ids(s.All()))
		rec, _ := s.Get("conv-1")
		assert.Equal(t, "new", rec.Name)
	})

	t.Run("OldMissing", func(t *testing.T) {
		s := New()
		s.Load([]ConversationRecord{{ID: "a"}})

		require.NoError(t, s.Replace("gone", ConversationRecord{ID: "b"}))
		assert.Equal(t, []string{"b", "a"}, ids(s.All()))
	})
}

// Random operation sequences never leave two records with the same id.
func TestStoreNoDuplicateIDs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New()
	id := func() string { return fmt.Sprintf("c%d", rng.Intn(8)) }

	for i := 0; i < 2000; i++ {
		switch rng.Intn(5) {
		case 0:
			n := rng.Intn(6)
			batch := make([]ConversationRecord, 0, n)
			for j := 0; j < n; j++ {
				batch = append(batch, ConversationRecord{ID: id()})
			}
			s.Load(batch)
		case 1:
			_ = s.Upsert(ConversationRecord{ID: id(), IsPending: rng.Intn(2) == 0})
		case 2:
			s.Remove(id())
		case 3:
			_ = s.Replace(id(), ConversationRecord{ID: id()})
		case 4:
			_ = s.InsertAt(rng.Intn(10), ConversationRecord{ID: id()})
		}

		all := s.All()
		seen := make(map[string]bool, len(all))
		for _, rec := range all {
			require.False(t, seen[rec.ID], "duplicate id %s after step %d", rec.ID, i)
			seen[rec.ID] = true
		}
		require.Equal(t, len(all), s.Len())
	}
}
