package reconciler

import (
	"context"
	"log/slog"
	"slices"

	"github.com/hrygo/convsync/server/internal/errors"
	"github.com/hrygo/convsync/server/internal/observability"
	"github.com/hrygo/convsync/store"
)

const reloadKey = "reload"

// Reload fetches the authoritative list and merges it into the store.
// Concurrent callers share one backend call.
func (r *Reconciler) Reload(ctx context.Context) error {
	return r.reload(ctx, false)
}

// reload runs or joins a reload. A fresh reload never joins a call that was
// already in flight, since that call may predate the change being waited for.
func (r *Reconciler) reload(ctx context.Context, fresh bool) error {
	if r.isClosed() {
		return ErrClosed
	}
	if fresh {
		r.reloads.Forget(reloadKey)
	}

	ch := r.reloads.DoChan(reloadKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.reloadTimeout)
		defer cancel()
		return nil, r.fetchAndLoad(flightCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) fetchAndLoad(ctx context.Context) error {
	seq := r.reloadSeq.Add(1)
	op := observability.NewOpContext(r.logger, "reload", "")

	if err := r.limiter.Wait(ctx); err != nil {
		op.Done(err)
		return errors.TransientBackend("list conversations", err)
	}

	records, err := r.gw.ListConversations(ctx)
	r.metrics.RecordReload(op.Duration(), err)
	if err != nil {
		err = errors.TransientBackend("list conversations", err)
		op.Done(err, slog.String(observability.LogFieldErrorCode, string(errors.ErrCodeTransientBackend)))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if seq < r.appliedSeq {
		op.Debug("stale reload discarded", slog.Uint64("seq", seq), slog.Uint64("applied_seq", r.appliedSeq))
		return nil
	}
	r.appliedSeq = seq

	known := make(map[string]bool, r.store.Len())
	for _, rec := range r.store.All() {
		known[rec.ID] = true
	}
	result := r.store.Load(records)
	r.adoptPlaceholdersLocked(op, records, known)
	for _, rej := range result.Rejected {
		rejErr := errors.MalformedRecord(rej.Index, rej.Err)
		op.Warn("backend record rejected",
			slog.String(observability.LogFieldErrorCode, string(rejErr.Code)),
			slog.Int("index", rej.Index),
			slog.String("error", rejErr.Error()))
	}
	r.metrics.RecordRejected(len(result.Rejected))

	if r.activeID != "" {
		if _, ok := r.store.Get(r.activeID); !ok {
			r.activeID = ""
		}
	}
	r.metrics.SetStoreSize(r.store.Len())

	op.Done(nil,
		slog.Int("loaded", result.Loaded),
		slog.Int("retained", result.Retained),
		slog.Int("rejected", len(result.Rejected)))
	return nil
}

// adoptPlaceholdersLocked replaces a retained placeholder with a newly listed
// record whose name gives the same temporary id. The backend committed the
// create but its response has not arrived yet; showing both would list one
// conversation twice. It must be called with r.mu held.
func (r *Reconciler) adoptPlaceholdersLocked(op *observability.OpContext, records []store.ConversationRecord, known map[string]bool) {
	pending := r.store.Pending()
	if len(pending) == 0 {
		return
	}
	for _, rec := range records {
		if rec.ID == "" || known[rec.ID] {
			continue
		}
		tempID := Slugify(rec.Name)
		if tempID == rec.ID || !slices.Contains(pending, tempID) {
			continue
		}
		confirmed, ok := r.store.Get(rec.ID)
		if !ok {
			continue
		}
		if err := r.store.Replace(tempID, confirmed); err != nil {
			continue
		}
		pending = slices.DeleteFunc(pending, func(id string) bool { return id == tempID })
		if r.activeID == tempID {
			r.activeID = rec.ID
		}
		op.Debug("placeholder adopted by listed conversation",
			slog.String("temp_id", tempID),
			slog.String("new_conversation_id", rec.ID))
	}
}

// remapLocked replaces oldID by newID in one store step, used when the backend
// reported a conversion but the reload did not reflect it. It must be called
// with r.mu held.
func (r *Reconciler) remapLocked(oldID, newID string, participantIDs []string) {
	if oldID == "" || oldID == newID {
		return
	}
	if _, ok := r.store.Get(newID); ok {
		r.store.Remove(oldID)
		return
	}
	rec, ok := r.store.Get(oldID)
	if !ok {
		return
	}
	rec.ID = newID
	rec.Kind = store.KindGroup
	rec.IsPending = false
	for _, id := range participantIDs {
		if !slices.Contains(rec.ParticipantIDs, id) {
			rec.ParticipantIDs = append(rec.ParticipantIDs, id)
		}
	}
	if err := r.store.Replace(oldID, rec); err != nil {
		r.logger.Warn("failed to remap conversation",
			observability.LogFieldConversationID, oldID,
			"new_conversation_id", newID,
			"error", err)
	}
}

// convertLocked finishes a direct to group conversion after its reload and
// selects the new conversation. It must be called with r.mu held.
func (r *Reconciler) convertLocked(oldID, newID string, participantIDs []string) bool {
	r.remapLocked(oldID, newID, participantIDs)
	if r.activeID == oldID {
		r.activeID = ""
	}
	return r.selectLocked(newID)
}
