package store

import (
	"context"
	"database/sql"
)

// Driver is the persistence interface behind the local development backend.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error
	ReplaceConversation(ctx context.Context, replace *ReplaceConversation) error
	UpdateModelLabels(ctx context.Context, update *UpdateModelLabels) (int64, error)
}
