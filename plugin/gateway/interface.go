// Package gateway defines the backend contract consumed by the reconciler.
// The backend owns identity, storage and replication; this package only
// describes its request/response calls and push events.
package gateway

import (
	"context"

	"github.com/hrygo/convsync/store"
)

// Gateway is the request/response and push surface exposed by the host backend.
type Gateway interface {
	// ListConversations returns the authoritative conversation list in backend order.
	ListConversations(ctx context.Context) ([]store.ConversationRecord, error)

	// CreateConversation creates a conversation and returns the confirmed record.
	CreateConversation(ctx context.Context, req *CreateConversationRequest) (*store.ConversationRecord, error)

	// AddParticipants adds participants. A non-empty NewConversationID in the
	// response signals a direct to group conversion.
	AddParticipants(ctx context.Context, req *AddParticipantsRequest) (*AddParticipantsResponse, error)

	// RenameConversation changes the display name.
	RenameConversation(ctx context.Context, req *RenameConversationRequest) error

	// DeleteConversation removes a conversation.
	DeleteConversation(ctx context.Context, conversationID string) error

	// Subscribe streams push events until ctx is done or the backend closes
	// the stream. Events arrive in publication order.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// CreateConversationRequest is the payload of CreateConversation.
type CreateConversationRequest struct {
	Kind           store.Kind `json:"kind"`
	ParticipantIDs []string   `json:"participant_ids"`
	Name           string     `json:"name"`
}

// AddParticipantsRequest is the payload of AddParticipants.
type AddParticipantsRequest struct {
	ConversationID string   `json:"conversation_id"`
	ParticipantIDs []string `json:"participant_ids"`
}

// AddParticipantsResponse is the result of AddParticipants.
type AddParticipantsResponse struct {
	NewConversationID string `json:"new_conversation_id,omitempty"`
}

// RenameConversationRequest is the payload of RenameConversation.
type RenameConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
}
