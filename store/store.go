package store

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// ErrMissingID is returned for backend records without an id.
var ErrMissingID = errors.New("conversation record is missing id")

// RejectedRecord describes a backend record skipped by Load.
type RejectedRecord struct {
	Index int
	Err   error
}

// LoadResult summarizes a Load call.
type LoadResult struct {
	Loaded   int
	Retained int // pending records kept because the backend does not know them yet
	Rejected []RejectedRecord
}

// overlay holds UI-local state keyed by conversation id.
// It is never written into ConversationRecord fields.
type overlay struct {
	processing bool
}

// Store is the in-memory authoritative cache of conversations.
// There is exactly one record per id; order follows the backend list with
// optimistic inserts at the head.
type Store struct {
	mu      sync.RWMutex
	records map[string]ConversationRecord
	order   []string
	ui      map[string]overlay
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]ConversationRecord),
		ui:      make(map[string]overlay),
	}
}

// Load replaces backend-owned state with records.
//
// Records without an id are rejected individually. Processing flags survive for
// ids still present. Pending records unknown to the backend are retained at the
// head. A local preview newer than the backend's is kept, so a message applied
// while the reload was in flight is not rolled back.
func (s *Store) Load(records []ConversationRecord) LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result LoadResult
	next := make(map[string]ConversationRecord, len(records))
	order := make([]string, 0, len(records))

	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			result.Rejected = append(result.Rejected, RejectedRecord{Index: i, Err: err})
			continue
		}
		rec = rec.Clone()
		rec.IsPending = false
		rec.Kind = NormalizeKind(string(rec.Kind))
		if prev, ok := s.records[rec.ID]; ok && prev.LastMessageAt.After(rec.LastMessageAt) {
			rec.LastMessagePreview = prev.LastMessagePreview
			rec.LastMessageAt = prev.LastMessageAt
		}
		if _, dup := next[rec.ID]; !dup {
			order = append(order, rec.ID)
		}
		next[rec.ID] = rec
	}
	result.Loaded = len(order)

	var pending []string
	for _, id := range s.order {
		rec := s.records[id]
		if !rec.IsPending {
			continue
		}
		if _, known := next[id]; known {
			continue
		}
		next[id] = rec
		pending = append(pending, id)
	}
	result.Retained = len(pending)

	ui := make(map[string]overlay, len(s.ui))
	for id, o := range s.ui {
		if _, ok := next[id]; ok {
			ui[id] = o
		}
	}

	s.records = next
	s.order = append(pending, order...)
	s.ui = ui
	return result
}

// Upsert inserts rec at the head, or replaces an existing record in place.
func (s *Store) Upsert(rec ConversationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		s.order = slices.Insert(s.order, 0, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// InsertAt inserts rec at index, clamped to the current bounds. An existing
// record with the same id is replaced in place instead.
func (s *Store) InsertAt(index int, rec ConversationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		index = max(0, min(index, len(s.order)))
		s.order = slices.Insert(s.order, index, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Update applies fn to the record with id under the write lock.
// It returns false if the id is unknown.
func (s *Store) Update(id string, fn func(rec *ConversationRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	fn(&rec)
	rec.ID = id
	s.records[id] = rec
	return true
}

// Remove deletes the record with id. It is a no-op if absent.
func (s *Store) Remove(id string) {
	s.Take(id)
}

// Take removes the record with id and returns it with its former position.
func (s *Store) Take(id string) (ConversationRecord, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ConversationRecord{}, -1, false
	}
	idx := slices.Index(s.order, id)
	s.order = slices.Delete(s.order, idx, idx+1)
	delete(s.records, id)
	delete(s.ui, id)
	return rec, idx, true
}

// Replace removes oldID and stores rec in one step, keeping the old position
// and carrying the processing flag across. If rec.ID is already present, that
// record is updated in place and oldID is simply dropped.
func (s *Store) Replace(oldID string, rec ConversationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	carried := s.ui[oldID].processing || s.ui[rec.ID].processing
	oldIdx := slices.Index(s.order, oldID)
	_, exists := s.records[rec.ID]

	switch {
	case oldID == rec.ID:
		if oldIdx < 0 {
			s.order = slices.Insert(s.order, 0, rec.ID)
		}
	case exists:
		if oldIdx >= 0 {
			s.order = slices.Delete(s.order, oldIdx, oldIdx+1)
		}
	case oldIdx >= 0:
		s.order[oldIdx] = rec.ID
	default:
		s.order = slices.Insert(s.order, 0, rec.ID)
	}

	if oldID != rec.ID {
		delete(s.records, oldID)
		delete(s.ui, oldID)
	}
	s.records[rec.ID] = rec.Clone()
	if carried {
		s.ui[rec.ID] = overlay{processing: true}
	}
	return nil
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (ConversationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return ConversationRecord{}, false
	}
	return rec.Clone(), true
}

// All returns copies of every record in display order.
func (s *Store) All() []ConversationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConversationRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Pending returns the ids of records awaiting backend confirmation.
func (s *Store) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, id := range s.order {
		if s.records[id].IsPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetProcessing sets the UI-only processing flag. Unknown ids are ignored.
func (s *Store) SetProcessing(id string, processing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false
	}
	if processing {
		s.ui[id] = overlay{processing: true}
	} else {
		delete(s.ui, id)
	}
	return true
}

// IsProcessing reports the UI-only processing flag for id.
func (s *Store) IsProcessing(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ui[id].processing
}

// ProcessingIDs returns the set of ids currently marked processing.
func (s *Store) ProcessingIDs() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]bool, len(s.ui))
	for id, o := range s.ui {
		if o.processing {
			ids[id] = true
		}
	}
	return ids
}
