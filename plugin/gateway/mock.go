package gateway

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hrygo/convsync/store"
)

// Operation names used by MockGateway call counters and failure injection.
const (
	OpList   = "list"
	OpCreate = "create"
	OpAdd    = "add_participants"
	OpRename = "rename"
	OpDelete = "delete"
)

// MockGateway is an in-memory Gateway for testing.
//
// The hook fields, when set, replace the default behavior of the matching
// call and may block to simulate a slow backend.
type MockGateway struct {
	mu            sync.Mutex
	conversations []store.ConversationRecord
	failures      map[string][]error
	calls         map[string]int
	subs          []chan Event
	nextID        int

	ListHook   func(ctx context.Context) ([]store.ConversationRecord, error)
	CreateHook func(ctx context.Context, req *CreateConversationRequest) (*store.ConversationRecord, error)
}

// NewMockGateway creates a MockGateway holding records in backend order.
func NewMockGateway(records ...store.ConversationRecord) *MockGateway {
	m := &MockGateway{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
	m.SetConversations(records...)
	return m
}

// SetConversations replaces the backend list.
func (m *MockGateway) SetConversations(records ...store.ConversationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversations = make([]store.ConversationRecord, 0, len(records))
	for _, rec := range records {
		m.conversations = append(m.conversations, rec.Clone())
	}
}

// FailNext makes the next call of op return err. Calls queue in order.
func (m *MockGateway) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls returns how many times op was invoked.
func (m *MockGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Publish delivers event to every subscriber.
func (m *MockGateway) Publish(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs {
		ch <- event
	}
}

// CloseSubscriptions closes every subscriber channel.
func (m *MockGateway) CloseSubscriptions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

// begin records a call and pops an injected failure, if any.
func (m *MockGateway) begin(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[op]++
	if queue := m.failures[op]; len(queue) > 0 {
		m.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

// ListConversations returns the backend list.
func (m *MockGateway) ListConversations(ctx context.Context) ([]store.ConversationRecord, error) {
	if err := m.begin(OpList); err != nil {
		return nil, err
	}
	if m.ListHook != nil {
		return m.ListHook(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]store.ConversationRecord, 0, len(m.conversations))
	for _, rec := range m.conversations {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// CreateConversation assigns a conv-N id and inserts the record at the head.
func (m *MockGateway) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*store.ConversationRecord, error) {
	if err := m.begin(OpCreate); err != nil {
		return nil, err
	}
	if m.CreateHook != nil {
		return m.CreateHook(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec := store.ConversationRecord{
		ID:             fmt.Sprintf("conv-%d", m.nextID),
		Name:           req.Name,
		Kind:           store.NormalizeKind(string(req.Kind)),
		ParticipantIDs: slices.Clone(req.ParticipantIDs),
	}
	m.conversations = slices.Insert(m.conversations, 0, rec)
	return &rec, nil
}

// AddParticipants appends participants. A direct conversation that grows
// beyond two participants is replaced by a new group grp-N.
func (m *MockGateway) AddParticipants(_ context.Context, req *AddParticipantsRequest) (*AddParticipantsResponse, error) {
	if err := m.begin(OpAdd); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.IndexFunc(m.conversations, func(r store.ConversationRecord) bool { return r.ID == req.ConversationID })
	if idx < 0 {
		return nil, fmt.Errorf("conversation %s not found", req.ConversationID)
	}
	rec := m.conversations[idx]
	for _, id := range req.ParticipantIDs {
		if !rec.HasParticipant(id) {
			rec.ParticipantIDs = append(rec.ParticipantIDs, id)
		}
	}

	if rec.Kind == store.KindDirect && len(rec.ParticipantIDs) > 2 {
		m.nextID++
		rec.ID = fmt.Sprintf("grp-%d", m.nextID)
		rec.Kind = store.KindGroup
		m.conversations[idx] = rec
		return &AddParticipantsResponse{NewConversationID: rec.ID}, nil
	}
	m.conversations[idx] = rec
	return &AddParticipantsResponse{}, nil
}

// RenameConversation renames a conversation.
func (m *MockGateway) RenameConversation(_ context.Context, req *RenameConversationRequest) error {
	if err := m.begin(OpRename); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.conversations {
		if m.conversations[i].ID == req.ConversationID {
			m.conversations[i].Name = req.Name
			return nil
		}
	}
	return fmt.Errorf("conversation %s not found", req.ConversationID)
}

// DeleteConversation removes a conversation.
func (m *MockGateway) DeleteConversation(_ context.Context, conversationID string) error {
	if err := m.begin(OpDelete); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversations = slices.DeleteFunc(m.conversations, func(r store.ConversationRecord) bool { return r.ID == conversationID })
	return nil
}

// Subscribe registers a subscriber. The channel is closed when ctx is done
// or CloseSubscriptions is called.
func (m *MockGateway) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if i := slices.Index(m.subs, ch); i >= 0 {
			m.subs = slices.Delete(m.subs, i, i+1)
			close(ch)
		}
	}()
	return ch, nil
}

// Ensure MockGateway implements Gateway
var _ Gateway = (*MockGateway)(nil)
