package gateway

import (
	"time"

	"github.com/hrygo/convsync/store"
)

// EventType names a push channel.
type EventType string

const (
	// EventNewMessages carries messages appended to a conversation.
	EventNewMessages EventType = "newMessages"
	// EventP2PConvertedToGroup announces that a direct conversation became a group.
	EventP2PConvertedToGroup EventType = "p2pConvertedToGroup"
	// EventDefaultModelChanged announces that the default AI model changed.
	EventDefaultModelChanged EventType = "defaultModelChanged"
)

func (t EventType) String() string {
	return string(t)
}

// Event is a push notification from the backend.
// Exactly one payload field is set, matching Type.
type Event struct {
	Seq       int64
	Type      EventType
	Timestamp time.Time

	NewMessages  *NewMessagesPayload
	Conversion   *ConversionPayload
	ModelChanged *ModelChangedPayload
}

// NewMessagesPayload is the payload of EventNewMessages.
type NewMessagesPayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []store.Message `json:"messages"`
}

// ConversionPayload is the payload of EventP2PConvertedToGroup.
type ConversionPayload struct {
	OldConversationID string   `json:"old_conversation_id"`
	NewConversationID string   `json:"new_conversation_id"`
	ParticipantIDs    []string `json:"participant_ids"`
}

// ModelChangedPayload is the optional payload of EventDefaultModelChanged.
type ModelChangedPayload struct {
	ModelLabel string `json:"model_label,omitempty"`
}

// NewMessagesEvent builds an EventNewMessages event.
func NewMessagesEvent(conversationID string, messages ...store.Message) Event {
	return Event{
		Type:        EventNewMessages,
		Timestamp:   time.Now(),
		NewMessages: &NewMessagesPayload{ConversationID: conversationID, Messages: messages},
	}
}

// ConversionEvent builds an EventP2PConvertedToGroup event.
func ConversionEvent(oldID, newID string, participantIDs []string) Event {
	return Event{
		Type:      EventP2PConvertedToGroup,
		Timestamp: time.Now(),
		Conversion: &ConversionPayload{
			OldConversationID: oldID,
			NewConversationID: newID,
			ParticipantIDs:    participantIDs,
		},
	}
}

// ModelChangedEvent builds an EventDefaultModelChanged event.
func ModelChangedEvent(label string) Event {
	return Event{
		Type:         EventDefaultModelChanged,
		Timestamp:    time.Now(),
		ModelChanged: &ModelChangedPayload{ModelLabel: label},
	}
}
