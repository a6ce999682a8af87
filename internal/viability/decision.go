package viability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/threshold"
)

// SessionStore is the subset of the session store the decision machine
// needs: load one session and write back its check state.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateCheckStatus(ctx context.Context, id string, status Status, deadline, checkedAt time.Time) error
}

// Machine applies the cancellation-window logic to sessions. It is the sole
// writer of a session's check status; CANCELLED is applied by the caller
// (the sweeper) when a decision's action says so.
type Machine struct {
	store    SessionStore
	resolver *threshold.Resolver
	analyzer *Analyzer
	logger   zerolog.Logger
	now      func() time.Time
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineClock overrides the machine's time source. Used by tests.
func WithMachineClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a decision machine.
func NewMachine(store SessionStore, resolver *threshold.Resolver, analyzer *Analyzer, logger zerolog.Logger, opts ...MachineOption) *Machine {
	m := &Machine{
		store:    store,
		resolver: resolver,
		analyzer: analyzer,
		logger:   logger.With().Str("component", "viability.machine").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckSession loads a session, decides it, and persists the resulting
// status. A load failure aborts this session's check only; the caller
// retries on the next sweep.
func (m *Machine) CheckSession(ctx context.Context, id string) (*Decision, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.NewStoreError("get_session", "session", id, apperrors.ErrNotFound)
	}
	return m.Check(ctx, s)
}

// Check decides an already-loaded session and persists the status
// transition. The write is unconditional: recomputing and re-writing the
// same status is a no-op in effect.
func (m *Machine) Check(ctx context.Context, s *Session) (*Decision, error) {
	now := m.now()

	if s.Status == StatusCancelled {
		return &Decision{
			SessionID: s.ID,
			Status:    StatusCancelled,
			Action:    ActionNone,
			Reason:    "session already cancelled",
			CheckedAt: now,
		}, nil
	}

	// One resolution snapshot drives both the deadline window and the
	// analysis. A config store failure means no decision this cycle: the
	// session keeps its previous status and is retried on the next sweep.
	resolved, err := m.resolver.Resolve(ctx, threshold.Query{
		Language: s.Language,
		Country:  s.Country,
		Region:   s.Region,
	})
	if err != nil {
		return nil, err
	}

	hoursUntilStart := s.StartTime.Sub(now).Hours()
	deadlineHours, autoCancel := deadlineParams(resolved)
	atDeadline := hoursUntilStart <= float64(deadlineHours)
	nearDeadline := hoursUntilStart <= float64(deadlineHours)+1

	analysis := m.analyze(ctx, s, resolved, nearDeadline)

	d := &Decision{
		SessionID:       s.ID,
		HoursUntilStart: hoursUntilStart,
		DeadlineHours:   deadlineHours,
		AutoCancel:      autoCancel,
		Analysis:        analysis,
		CheckedAt:       now,
	}

	switch {
	case analysis.WillRun:
		d.Status = StatusPassed
		d.Action = ActionProceed
		d.Reason = fmt.Sprintf("enrollment %d meets minimum %d", analysis.CurrentEnrollments, analysis.MinRequired)
	case atDeadline && autoCancel:
		d.Status = StatusFailed
		d.Action = ActionCancel
		d.Reason = fmt.Sprintf("enrollment %d below minimum %d at cancellation deadline", analysis.CurrentEnrollments, analysis.MinRequired)
	case atDeadline:
		d.Status = StatusFailed
		d.Action = ActionWarn
		d.Reason = fmt.Sprintf("enrollment %d below minimum %d at deadline, auto-cancel disabled", analysis.CurrentEnrollments, analysis.MinRequired)
	default:
		d.Status = StatusPending
		d.Action = ActionExtend
		d.Reason = fmt.Sprintf("enrollment %d below minimum %d, %.1fh until deadline", analysis.CurrentEnrollments, analysis.MinRequired, hoursUntilStart-float64(deadlineHours))
	}

	deadline := s.StartTime.Add(-time.Duration(deadlineHours) * time.Hour)
	if err := m.store.UpdateCheckStatus(ctx, s.ID, d.Status, deadline, now); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("session_id", s.ID).
		Str("status", string(d.Status)).
		Str("action", string(d.Action)).
		Float64("hours_until_start", hoursUntilStart).
		Int("enrollments", analysis.CurrentEnrollments).
		Msg("session decided")

	return d, nil
}

// analyze reads the analysis through the cache, except near the decision
// window (within an hour of the deadline or past it) where the final call
// must never act on a stale enrollment count.
func (m *Machine) analyze(ctx context.Context, s *Session, resolved *threshold.Resolved, nearDeadline bool) *Analysis {
	if nearDeadline {
		return m.analyzer.FreshWith(ctx, s, resolved)
	}
	return m.analyzer.AnalyzeWith(ctx, s, resolved)
}

// deadlineParams reads the cancellation window off a resolution snapshot,
// falling back to the documented defaults when no config matched.
func deadlineParams(resolved *threshold.Resolved) (int, bool) {
	if resolved == nil {
		return threshold.DefaultDeadlineHours, false
	}
	return resolved.CancellationDeadlineHours, resolved.AutoCancel
}
