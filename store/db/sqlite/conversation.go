package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/convsync/store"
)

const conversationColumns = "id, name, kind, participants, last_message_preview, last_message_ts, model_label, has_ai, created_ts"

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	if err := insertConversation(ctx, d.db, create); err != nil {
		return nil, err
	}
	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversation WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := []*store.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}
	if v := update.Name; v != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Kind; v != nil {
		set, args = append(set, "kind = "+placeholder(len(args)+1)), append(args, string(*v))
	}
	if update.ParticipantIDs != nil {
		participants, err := encodeParticipants(update.ParticipantIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode participants: %w", err)
		}
		set, args = append(set, "participants = "+placeholder(len(args)+1)), append(args, participants)
	}
	if v := update.LastMessagePreview; v != nil {
		set, args = append(set, "last_message_preview = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastMessageTs; v != nil {
		set, args = append(set, "last_message_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ModelLabel; v != nil {
		set, args = append(set, "model_label = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.HasAI; v != nil {
		set, args = append(set, "has_ai = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(set) > 0 {
		args = append(args, update.ID)
		stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
		if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("failed to update conversation: %w", err)
		}
	}

	list, err := d.ListConversations(ctx, &store.FindConversation{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, sql.ErrNoRows
	}
	return list[0], nil
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	return deleteConversation(ctx, d.db, delete.ID)
}

func (d *DB) ReplaceConversation(ctx context.Context, replace *store.ReplaceConversation) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertConversation(ctx, tx, replace.New); err != nil {
		return err
	}
	if err := deleteConversation(ctx, tx, replace.OldID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation replacement: %w", err)
	}
	return nil
}

func (d *DB) UpdateModelLabels(ctx context.Context, update *store.UpdateModelLabels) (int64, error) {
	result, err := d.db.ExecContext(ctx, `UPDATE conversation SET model_label = `+placeholder(1)+` WHERE has_ai = 1`, update.ModelLabel)
	if err != nil {
		return 0, fmt.Errorf("failed to update model labels: %w", err)
	}
	return result.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertConversation(ctx context.Context, exec execer, create *store.Conversation) error {
	participants, err := encodeParticipants(create.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}
	args := []any{
		create.ID, create.Name, string(create.Kind), participants,
		create.LastMessagePreview, create.LastMessageTs, create.ModelLabel, create.HasAI, create.CreatedTs,
	}
	stmt := `INSERT INTO conversation (` + conversationColumns + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := exec.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func deleteConversation(ctx context.Context, exec execer, id string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM conversation WHERE id = `+placeholder(1), id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanConversation(rows *sql.Rows) (*store.Conversation, error) {
	var (
		c            store.Conversation
		kind         string
		participants string
	)
	if err := rows.Scan(
		&c.ID, &c.Name, &kind, &participants,
		&c.LastMessagePreview, &c.LastMessageTs, &c.ModelLabel, &c.HasAI, &c.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	ids, err := decodeParticipants(participants)
	if err != nil {
		return nil, fmt.Errorf("failed to decode participants of %s: %w", c.ID, err)
	}
	c.Kind = store.NormalizeKind(kind)
	c.ParticipantIDs = ids
	return &c, nil
}
