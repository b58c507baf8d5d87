package reconciler

import (
	"context"
	"log/slog"
	"slices"

	"github.com/hrygo/convsync/plugin/gateway"
	"github.com/hrygo/convsync/server/internal/errors"
	"github.com/hrygo/convsync/server/internal/observability"
	"github.com/hrygo/convsync/store"
)

// HandleEvent applies one push event. Events must be handled in arrival
// order; Run does that. Failures are logged and returned but never surfaced
// to the user.
func (r *Reconciler) HandleEvent(ctx context.Context, ev gateway.Event) error {
	if r.isClosed() {
		return ErrClosed
	}

	logger := r.logger.With(
		slog.String(observability.LogFieldEventType, ev.Type.String()),
		slog.Int64(observability.LogFieldEventSeq, ev.Seq),
	)

	var (
		outcome string
		err     error
	)
	switch ev.Type {
	case gateway.EventNewMessages:
		outcome = r.applyNewMessages(logger, ev.NewMessages)
	case gateway.EventP2PConvertedToGroup:
		outcome, err = r.applyConversion(ctx, logger, ev.Conversion)
	case gateway.EventDefaultModelChanged:
		outcome = observability.OutcomeApplied
		if err = r.reload(ctx, true); err != nil {
			outcome = observability.OutcomeError
		}
	default:
		outcome = observability.OutcomeIgnored
		logger.Debug("unknown event type ignored")
	}

	r.metrics.RecordEvent(ev.Type.String(), outcome)
	if err != nil && err != ErrClosed {
		logger.Warn("event handling failed", slog.String("error", err.Error()))
	}
	return err
}

// triggersReload reports whether handling ev involves an authoritative reload.
func triggersReload(ev gateway.Event) bool {
	return ev.Type == gateway.EventP2PConvertedToGroup || ev.Type == gateway.EventDefaultModelChanged
}

// targetLoaded reports whether a newMessages event names a loaded conversation.
func (r *Reconciler) targetLoaded(ev gateway.Event) bool {
	if ev.Type != gateway.EventNewMessages || ev.NewMessages == nil {
		return true
	}
	_, ok := r.store.Get(ev.NewMessages.ConversationID)
	return ok
}

func (r *Reconciler) applyNewMessages(logger *slog.Logger, p *gateway.NewMessagesPayload) string {
	if p == nil || len(p.Messages) == 0 {
		return observability.OutcomeIgnored
	}
	last := p.Messages[len(p.Messages)-1]
	aiReplied := slices.ContainsFunc(p.Messages, func(m store.Message) bool { return m.IsAI })
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return observability.OutcomeDropped
	}
	found := r.store.Update(p.ConversationID, func(rec *store.ConversationRecord) {
		rec.LastMessagePreview = last.Body()
		if now.After(rec.LastMessageAt) {
			rec.LastMessageAt = now
		}
	})
	if !found {
		target := errors.UnknownEventTarget(p.ConversationID)
		logger.Debug("message for unknown conversation ignored",
			slog.String(observability.LogFieldConversationID, p.ConversationID),
			slog.String(observability.LogFieldErrorCode, string(target.Code)))
		return observability.OutcomeIgnored
	}
	if aiReplied {
		r.store.SetProcessing(p.ConversationID, false)
	}
	return observability.OutcomeApplied
}

func (r *Reconciler) applyConversion(ctx context.Context, logger *slog.Logger, p *gateway.ConversionPayload) (string, error) {
	if p == nil || p.NewConversationID == "" {
		return observability.OutcomeIgnored, nil
	}

	reloadErr := r.reload(ctx, true)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return observability.OutcomeDropped, ErrClosed
	}
	if reloadErr != nil {
		logger.Warn("reload after conversion failed, remapping locally",
			slog.String(observability.LogFieldConversationID, p.OldConversationID),
			slog.String("error", reloadErr.Error()))
	}
	if !r.convertLocked(p.OldConversationID, p.NewConversationID, p.ParticipantIDs) {
		logger.Debug("converted conversation not loaded",
			slog.String("new_conversation_id", p.NewConversationID))
		return observability.OutcomeIgnored, reloadErr
	}
	return observability.OutcomeRemapped, reloadErr
}
