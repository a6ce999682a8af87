// Package notify delivers session cancellation and low-enrollment warning
// events. Delivery failures never undo a decision: the sweeper logs them and
// moves on, and dispatch is retried independently of decision correctness.
package notify

import (
	"context"
)

// CancellationEvent announces that a session was cancelled for low
// enrollment.
type CancellationEvent struct {
	SessionID  string
	Reason     string
	Language   string
	Country    string
	Region     string
	Recipients []string
}

// WarningEvent warns an instructor that a session is below its minimum
// enrollment with the decision deadline passed and auto-cancel off.
type WarningEvent struct {
	SessionID    string
	InstructorID string
	Current      int
	Required     int
}

// Notifier is the notification gateway collaborator.
type Notifier interface {
	SessionCancelled(ctx context.Context, ev CancellationEvent) error
	LowEnrollmentWarning(ctx context.Context, ev WarningEvent) error
}

// Nop is a Notifier that does nothing. Used when no channel is configured.
type Nop struct{}

func (Nop) SessionCancelled(context.Context, CancellationEvent) error { return nil }
func (Nop) LowEnrollmentWarning(context.Context, WarningEvent) error  { return nil }
