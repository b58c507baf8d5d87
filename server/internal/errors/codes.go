package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a specific error type for reconciliation operations.
type ErrorCode string

const (
	// ErrCodeTransientBackend indicates a failed or timed out backend call.
	ErrCodeTransientBackend ErrorCode = "TRANSIENT_BACKEND"
	// ErrCodeMalformedRecord indicates a backend record failed shape validation.
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_RECORD"
	// ErrCodeUnknownEventTarget indicates a push event for an unknown conversation.
	ErrCodeUnknownEventTarget ErrorCode = "UNKNOWN_EVENT_TARGET"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the conversation is not in the store.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeClosed indicates the reconciler has been closed.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// SyncError represents a structured error for reconciliation operations.
type SyncError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *SyncError) WithContext(key string, value interface{}) *SyncError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *SyncError) GetCode() ErrorCode {
	return e.Code
}

// TransientBackend wraps a failed backend call.
func TransientBackend(op string, cause error) *SyncError {
	return &SyncError{Code: ErrCodeTransientBackend, Message: op + " failed", Cause: cause}
}

// MalformedRecord reports a backend record rejected at index.
func MalformedRecord(index int, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeMalformedRecord,
		Message: fmt.Sprintf("record %d rejected", index),
		Cause:   cause,
	}
}

// UnknownEventTarget reports an event for a conversation not in the store.
func UnknownEventTarget(conversationID string) *SyncError {
	return &SyncError{
		Code:    ErrCodeUnknownEventTarget,
		Message: fmt.Sprintf("conversation %s not loaded", conversationID),
	}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *SyncError {
	return &SyncError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(conversationID string) *SyncError {
	return &SyncError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("conversation %s not found", conversationID),
	}
}

// ErrClosed is returned by operations on a closed reconciler.
var ErrClosed = &SyncError{Code: ErrCodeClosed, Message: "reconciler closed"}

// IsCode checks if an error, or any error it wraps, is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var syncErr *SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a SyncError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var syncErr *SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr.Code
	}
	return defaultCode
}

// UserMessage returns the single human-readable message shown for a failed
// user action.
func UserMessage(action string, err error) string {
	if err == nil {
		return ""
	}
	switch GetCodeFromError(err, ErrCodeTransientBackend) {
	case ErrCodeInvalidArgument:
		var syncErr *SyncError
		stderrors.As(err, &syncErr)
		return fmt.Sprintf("Could not %s: %s.", action, syncErr.Message)
	case ErrCodeNotFound:
		return fmt.Sprintf("Could not %s: the conversation no longer exists.", action)
	case ErrCodeClosed:
		return fmt.Sprintf("Could not %s: the conversation list is closed.", action)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Could not %s: the backend did not respond in time.", action)
	}
	return fmt.Sprintf("Could not %s. Please try again.", action)
}
