package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldOpID is the field name for the operation ID.
	LogFieldOpID = "op_id"
	// LogFieldOp is the field name for the operation name.
	LogFieldOp = "op"
	// LogFieldConversationID is the field name for conversation ID.
	LogFieldConversationID = "conversation_id"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldEventType is the field name for push event type.
	LogFieldEventType = "event_type"
	// LogFieldEventSeq is the field name for push event sequence.
	LogFieldEventSeq = "event_seq"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
)

// OpContext carries structured logging state for one reconciliation operation.
type OpContext struct {
	OpID           string
	Op             string
	ConversationID string
	StartTime      time.Time
	Logger         *slog.Logger
}

// NewOpContext creates an operation context with a generated ID.
func NewOpContext(logger *slog.Logger, op, conversationID string) *OpContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpContext{
		OpID:           uuid.New().String(),
		Op:             op,
		ConversationID: conversationID,
		StartTime:      time.Now(),
		Logger:         logger,
	}
}

// Info logs an info message.
func (o *OpContext) Info(msg string, attrs ...slog.Attr) {
	o.log(slog.LevelInfo, msg, attrs...)
}

// Debug logs a debug message.
func (o *OpContext) Debug(msg string, attrs ...slog.Attr) {
	o.log(slog.LevelDebug, msg, attrs...)
}

// Warn logs a warning message.
func (o *OpContext) Warn(msg string, attrs ...slog.Attr) {
	o.log(slog.LevelWarn, msg, attrs...)
}

// Error logs an error message with the error.
func (o *OpContext) Error(msg string, err error, attrs ...slog.Attr) {
	o.log(slog.LevelError, msg, append(attrs, slog.String("error", err.Error()))...)
}

// Done logs the completion line with the elapsed duration.
func (o *OpContext) Done(err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.Int64(LogFieldDuration, o.Duration().Milliseconds()))
	if err != nil {
		o.Warn(o.Op+" failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	o.Debug(o.Op+" done", attrs...)
}

// Duration returns the elapsed time since the operation started.
func (o *OpContext) Duration() time.Duration {
	return time.Since(o.StartTime)
}

func (o *OpContext) log(level slog.Level, msg string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String(LogFieldOpID, o.OpID),
		slog.String(LogFieldOp, o.Op),
	}
	if o.ConversationID != "" {
		base = append(base, slog.String(LogFieldConversationID, o.ConversationID))
	}
	o.Logger.LogAttrs(context.Background(), level, msg, append(base, attrs...)...)
}
