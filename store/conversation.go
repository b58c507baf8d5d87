package store

import (
	"slices"
	"strings"
	"time"
)

// Kind is the conversation type.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// DefaultConversationName is assigned when a conversation is created without a name.
const DefaultConversationName = "New Conversation"

// NormalizeKind maps unknown or empty kinds to KindDirect.
func NormalizeKind(raw string) Kind {
	switch Kind(strings.TrimSpace(strings.ToLower(raw))) {
	case KindGroup:
		return KindGroup
	default:
		return KindDirect
	}
}

// ConversationRecord mirrors the backend view of a conversation.
// UI-only state (processing) is kept in the Store overlay, not here.
type ConversationRecord struct {
	ID                 string
	Name               string
	Kind               Kind
	ParticipantIDs     []string
	LastMessagePreview string
	LastMessageAt      time.Time
	// ModelLabel is empty until the backend resolves it. Never default it.
	ModelLabel string
	IsPending  bool
}

// Validate performs the minimal shape check applied to backend records.
func (r *ConversationRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	return nil
}

// Clone returns a deep copy.
func (r ConversationRecord) Clone() ConversationRecord {
	r.ParticipantIDs = slices.Clone(r.ParticipantIDs)
	return r
}

// HasParticipant reports whether id is a participant.
func (r *ConversationRecord) HasParticipant(id string) bool {
	return slices.Contains(r.ParticipantIDs, id)
}

// Message is a single chat message delivered by the backend.
type Message struct {
	ID       string
	SenderID string
	Content  string
	// Text is an alternate content field used by some producers.
	Text      string
	IsAI      bool
	CreatedAt time.Time
}

// Body returns Content, falling back to Text.
func (m Message) Body() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Text
}
