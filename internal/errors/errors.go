// Package errors provides structured error types for the viability engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout        = errors.New("operation timed out")
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnavailable    = errors.New("service unavailable")
	ErrRateLimit      = errors.New("rate limit exceeded")
	ErrNoConfig       = errors.New("no active threshold config for scope")
	ErrDuplicateScope = errors.New("threshold config scope already exists")
	ErrSessionFinal   = errors.New("session decision is final")
)

// StoreError represents a failure in the session or config store.
type StoreError struct {
	Op     string // e.g. "get_session", "update_status"
	Entity string // e.g. "session", "threshold_config"
	ID     string
	Err    error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps a store failure with operation context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// NotifyError represents a failure from the notification gateway.
type NotifyError struct {
	Kind       string // "cancellation" or "warning"
	SessionID  string
	StatusCode int
	Err        error
}

func (e *NotifyError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify %s for session %s (status %d): %v", e.Kind, e.SessionID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("notify %s for session %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var notifyErr *NotifyError
	if errors.As(err, &notifyErr) {
		switch notifyErr.StatusCode {
		case 0, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
