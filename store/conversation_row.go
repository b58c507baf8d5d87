package store

// Conversation is a persisted conversation row.
type Conversation struct {
	ID                 string
	Name               string
	Kind               Kind
	ParticipantIDs     []string
	LastMessagePreview string
	LastMessageTs      int64 // unix milliseconds, 0 when there is no message yet
	ModelLabel         string
	HasAI              bool
	CreatedTs          int64
}

type FindConversation struct {
	ID *string
}

type UpdateConversation struct {
	ID                 string
	Name               *string
	Kind               *Kind
	ParticipantIDs     []string
	LastMessagePreview *string
	LastMessageTs      *int64
	ModelLabel         *string
	HasAI              *bool
}

type DeleteConversation struct {
	ID string
}

// ReplaceConversation inserts New and deletes OldID in one transaction.
type ReplaceConversation struct {
	OldID string
	New   *Conversation
}

// UpdateModelLabels sets the model label of every conversation with an AI participant.
type UpdateModelLabels struct {
	ModelLabel string
}
