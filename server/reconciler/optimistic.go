package reconciler

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/hrygo/convsync/plugin/gateway"
	"github.com/hrygo/convsync/server/internal/errors"
	"github.com/hrygo/convsync/server/internal/observability"
	"github.com/hrygo/convsync/store"
)

// User-facing action names.
const (
	ActionCreate  = "create conversation"
	ActionRename  = "rename conversation"
	ActionDelete  = "delete conversation"
	ActionAddUser = "add participants"
)

// CreateRequest describes a conversation created by the user.
type CreateRequest struct {
	Name           string
	Kind           store.Kind
	ParticipantIDs []string
	// ExpectResponse marks the conversation processing until the first AI reply.
	ExpectResponse bool
}

// CreateConversation inserts a pending placeholder under Slugify(name),
// creates the conversation on the backend and swaps the placeholder for the
// confirmed record. On failure the placeholder is removed.
//
// Creates with the same name share a temporary id; the last one to resolve
// owns the placeholder, and earlier ones only add their confirmed record.
func (r *Reconciler) CreateConversation(ctx context.Context, req CreateRequest) (store.ConversationRecord, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = store.DefaultConversationName
	}
	tempID := Slugify(name)
	kind := store.NormalizeKind(string(req.Kind))
	op := observability.NewOpContext(r.logger, "create_conversation", tempID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return store.ConversationRecord{}, ErrClosed
	}
	r.gen++
	gen := r.gen
	owned := false
	if existing, ok := r.store.Get(tempID); !ok || existing.IsPending {
		placeholder := store.ConversationRecord{
			ID:             tempID,
			Name:           name,
			Kind:           kind,
			ParticipantIDs: slices.Clone(req.ParticipantIDs),
			IsPending:      true,
		}
		if err := r.store.Upsert(placeholder); err == nil {
			owned = true
			r.owners[tempID] = gen
			r.store.SetProcessing(tempID, req.ExpectResponse)
			r.activeID = tempID
		}
	} else {
		op.Debug("temporary id taken by a confirmed conversation, skipping placeholder")
	}
	r.mu.Unlock()

	confirmed, err := r.gw.CreateConversation(ctx, &gateway.CreateConversationRequest{
		Kind:           kind,
		ParticipantIDs: slices.Clone(req.ParticipantIDs),
		Name:           name,
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		op.Debug("response discarded after close")
		return store.ConversationRecord{}, ErrClosed
	}

	var rec store.ConversationRecord
	if err == nil {
		if confirmed == nil {
			err = errors.MalformedRecord(0, store.ErrMissingID)
		} else {
			rec = confirmed.Clone()
			if verr := rec.Validate(); verr != nil {
				err = errors.MalformedRecord(0, verr)
			}
		}
	}
	ownsPlaceholder := owned && r.owners[tempID] == gen

	if err != nil {
		if ownsPlaceholder {
			delete(r.owners, tempID)
			if cur, ok := r.store.Get(tempID); ok && cur.IsPending {
				r.store.Remove(tempID)
			}
			if r.activeID == tempID {
				r.activeID = ""
			}
		}
		if errors.IsCode(err, errors.ErrCodeMalformedRecord) {
			op.Error("backend confirmed create with a malformed record", err)
		} else {
			err = errors.TransientBackend(ActionCreate, err)
		}
		r.metrics.RecordMutation("create", observability.OutcomeError)
		op.Done(err, slog.String(observability.LogFieldErrorCode, string(errors.GetCodeFromError(err, errors.ErrCodeTransientBackend))))
		r.surface(ActionCreate, err)
		return store.ConversationRecord{}, err
	}

	rec.IsPending = false
	rec.Kind = store.NormalizeKind(string(rec.Kind))
	if strings.TrimSpace(rec.Name) == "" {
		rec.Name = name
	}

	outcome := observability.OutcomeOK
	if ownsPlaceholder {
		delete(r.owners, tempID)
		if cur, ok := r.store.Get(tempID); ok && cur.IsPending {
			err = r.store.Replace(tempID, rec)
		} else {
			err = r.store.Upsert(rec)
		}
		if rec.ID != tempID {
			outcome = observability.OutcomeRemapped
		}
		if r.activeID == tempID || r.activeID == "" {
			r.activeID = rec.ID
		}
	} else {
		err = r.store.Upsert(rec)
		if err == nil && req.ExpectResponse {
			r.store.SetProcessing(rec.ID, true)
		}
	}
	if err != nil {
		op.Done(err)
		return store.ConversationRecord{}, err
	}

	r.metrics.RecordMutation("create", outcome)
	r.metrics.SetStoreSize(r.store.Len())
	op.Done(nil, slog.String("new_conversation_id", rec.ID))
	return rec.Clone(), nil
}

// RenameConversation renames id locally, then on the backend. The local name
// is rolled back if the backend call fails and nothing renamed it since.
func (r *Reconciler) RenameConversation(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	op := observability.NewOpContext(r.logger, "rename_conversation", id)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	prev, err := r.confirmedLocked(id)
	if err == nil && name == "" {
		err = errors.InvalidArgument("name must not be empty")
	}
	if err != nil {
		r.mu.Unlock()
		op.Done(err)
		r.surface(ActionRename, err)
		return err
	}
	r.store.Update(id, func(rec *store.ConversationRecord) { rec.Name = name })
	r.mu.Unlock()

	err = r.gw.RenameConversation(ctx, &gateway.RenameConversationRequest{ConversationID: id, Name: name})

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err != nil {
		r.store.Update(id, func(rec *store.ConversationRecord) {
			if rec.Name == name {
				rec.Name = prev.Name
			}
		})
		err = errors.TransientBackend(ActionRename, err)
		r.metrics.RecordMutation("rename", observability.OutcomeError)
		op.Done(err)
		r.surface(ActionRename, err)
		return err
	}

	// A reload that raced the call may have restored the old name.
	r.store.Update(id, func(rec *store.ConversationRecord) { rec.Name = name })
	r.metrics.RecordMutation("rename", observability.OutcomeOK)
	op.Done(nil)
	return nil
}

// DeleteConversation removes id locally, then on the backend. The record is
// restored at its former position if the backend call fails.
func (r *Reconciler) DeleteConversation(ctx context.Context, id string) error {
	op := observability.NewOpContext(r.logger, "delete_conversation", id)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, err := r.confirmedLocked(id); err != nil {
		r.mu.Unlock()
		op.Done(err)
		r.surface(ActionDelete, err)
		return err
	}
	wasProcessing := r.store.IsProcessing(id)
	rec, idx, _ := r.store.Take(id)
	wasActive := r.activeID == id
	if wasActive {
		r.activeID = ""
	}
	r.mu.Unlock()

	err := r.gw.DeleteConversation(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err != nil {
		if _, exists := r.store.Get(id); !exists {
			if rerr := r.store.InsertAt(idx, rec); rerr == nil {
				r.store.SetProcessing(id, wasProcessing)
			}
		}
		if wasActive && r.activeID == "" {
			r.activeID = id
		}
		err = errors.TransientBackend(ActionDelete, err)
		r.metrics.RecordMutation("delete", observability.OutcomeError)
		op.Done(err)
		r.surface(ActionDelete, err)
		return err
	}

	// A reload that raced the call may have brought the record back.
	r.store.Remove(id)
	r.metrics.RecordMutation("delete", observability.OutcomeOK)
	r.metrics.SetStoreSize(r.store.Len())
	op.Done(nil)
	return nil
}

// AddParticipants adds participants to id and reloads. When the backend
// converts a direct conversation into a group, the old id is replaced by the
// new one and the new conversation becomes active.
func (r *Reconciler) AddParticipants(ctx context.Context, id string, participantIDs []string) (string, error) {
	op := observability.NewOpContext(r.logger, "add_participants", id)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	_, err := r.confirmedLocked(id)
	if err == nil && len(participantIDs) == 0 {
		err = errors.InvalidArgument("no participants given")
	}
	r.mu.Unlock()
	if err != nil {
		op.Done(err)
		r.surface(ActionAddUser, err)
		return "", err
	}

	resp, err := r.gw.AddParticipants(ctx, &gateway.AddParticipantsRequest{
		ConversationID: id,
		ParticipantIDs: slices.Clone(participantIDs),
	})
	if r.isClosed() {
		return "", ErrClosed
	}
	if err != nil {
		err = errors.TransientBackend(ActionAddUser, err)
		r.metrics.RecordMutation("add_participants", observability.OutcomeError)
		op.Done(err)
		r.surface(ActionAddUser, err)
		return "", err
	}

	newID := ""
	if resp != nil && resp.NewConversationID != "" && resp.NewConversationID != id {
		newID = resp.NewConversationID
	}
	if newID == "" {
		if err := r.reload(ctx, true); err != nil {
			op.Warn("reload after adding participants failed", slog.String("error", err.Error()))
		}
		r.metrics.RecordMutation("add_participants", observability.OutcomeOK)
		op.Done(nil)
		return id, nil
	}

	reloadErr := r.reload(ctx, true)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	if reloadErr != nil {
		op.Warn("reload after conversion failed, remapping locally", slog.String("error", reloadErr.Error()))
	}
	r.convertLocked(id, newID, participantIDs)
	op.Info("direct conversation converted", slog.String("new_conversation_id", newID), slog.Int("added", len(participantIDs)))
	r.metrics.RecordMutation("add_participants", observability.OutcomeRemapped)
	op.Done(nil, slog.String("new_conversation_id", newID))
	return newID, nil
}

// confirmedLocked returns the record for id, rejecting unknown and pending ones.
func (r *Reconciler) confirmedLocked(id string) (store.ConversationRecord, error) {
	rec, ok := r.store.Get(id)
	if !ok {
		return store.ConversationRecord{}, errors.NotFound(id)
	}
	if rec.IsPending {
		return store.ConversationRecord{}, errors.InvalidArgument("conversation is still being created")
	}
	return rec, nil
}
