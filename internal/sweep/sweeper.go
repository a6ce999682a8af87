// Package sweep periodically walks all undecided upcoming sessions, asks the
// decision machine to (re)decide each one, and applies CANCEL and WARN
// outcomes.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/metrics"
	"github.com/lingoloop/viability/internal/notify"
	"github.com/lingoloop/viability/internal/viability"
)

// Store is the session store surface the sweeper needs beyond the machine's.
type Store interface {
	GetSession(ctx context.Context, id string) (*viability.Session, error)
	ListUndecidedSessions(ctx context.Context, after time.Time) ([]*viability.Session, error)
	MarkSessionCancelled(ctx context.Context, id string) error
}

// Decider decides sessions. Implemented by viability.Machine.
type Decider interface {
	Check(ctx context.Context, s *viability.Session) (*viability.Decision, error)
}

// Result summarizes one sweep. The three outcome lists are disjoint.
type Result struct {
	StartedAt time.Time
	Duration  time.Duration
	Checked   int
	Cancelled []string
	Warned    []string
	Errored   []string
}

// Sweeper runs the periodic viability sweep.
type Sweeper struct {
	store    Store
	decider  Decider
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	interval time.Duration
	workers  int
	now      func() time.Time

	mu   sync.Mutex
	last *Result
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the sweeper's time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New creates a sweeper. workers bounds in-flight session checks per sweep;
// values below 1 are treated as 1 (sequential).
func New(store Store, decider Decider, notifier notify.Notifier, interval time.Duration, workers int, logger zerolog.Logger, opts ...Option) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	s := &Sweeper{
		store:    store,
		decider:  decider,
		notifier: notifier,
		logger:   logger.With().Str("component", "sweep").Logger(),
		interval: interval,
		workers:  workers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately, then on every interval tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Int("workers", s.workers).Msg("sweep scheduler started")

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep decides every undecided upcoming session once. Session order is not
// significant: each decision depends only on that session, its config, and
// the clock. One session's failure lands in Errored and never interrupts
// the rest.
func (s *Sweeper) Sweep(ctx context.Context) *Result {
	started := s.now()
	result := &Result{StartedAt: started}

	sessions, err := s.store.ListUndecidedSessions(ctx, started)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing undecided sessions failed, skipping sweep")
		if s.metrics != nil {
			s.metrics.RecordError("sweep", "list_sessions")
		}
		result.Duration = s.now().Sub(started)
		s.setLast(result)
		return result
	}
	result.Checked = len(sessions)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)

	for _, sess := range sessions {
		wg.Add(1)
		sem <- struct{}{}
		go func(sess *viability.Session) {
			defer wg.Done()
			defer func() { <-sem }()

			d, err := s.processSession(ctx, sess)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errored = append(result.Errored, sess.ID)
			case d.Action == viability.ActionCancel:
				result.Cancelled = append(result.Cancelled, sess.ID)
			case d.Action == viability.ActionWarn:
				result.Warned = append(result.Warned, sess.ID)
			}
		}(sess)
	}
	wg.Wait()

	result.Duration = s.now().Sub(started)
	s.setLast(result)

	if s.metrics != nil {
		s.metrics.RecordSweep(result.Duration.Seconds(), result.Checked)
	}
	s.logger.Info().
		Int("checked", result.Checked).
		Int("cancelled", len(result.Cancelled)).
		Int("warned", len(result.Warned)).
		Int("errored", len(result.Errored)).
		Dur("duration", result.Duration).
		Msg("sweep completed")

	return result
}

// CheckOne decides a single session by ID and applies its outcome. Used by
// the management API's on-demand check endpoint.
func (s *Sweeper) CheckOne(ctx context.Context, id string) (*viability.Decision, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &apperrors.StoreError{Op: "get", Entity: "session", ID: id, Err: apperrors.ErrNotFound}
	}
	return s.processSession(ctx, sess)
}

// LastResult returns a copy of the most recent sweep result, or nil before
// the first sweep.
func (s *Sweeper) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

func (s *Sweeper) setLast(r *Result) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

// processSession decides one session and applies its outcome.
func (s *Sweeper) processSession(ctx context.Context, sess *viability.Session) (*viability.Decision, error) {
	d, err := s.decider.Check(ctx, sess)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session check failed, will retry next sweep")
		if s.metrics != nil {
			s.metrics.RecordError("sweep", "check")
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordDecision(string(d.Status), string(d.Action))
	}
	if err := s.applyOutcome(ctx, sess, d); err != nil {
		return nil, err
	}
	return d, nil
}

// applyOutcome performs the side effects a decision instructs: CANCEL marks
// the session CANCELLED and emits a cancellation notification; WARN notifies
// the instructor without cancelling. A notification failure does not undo
// the transition.
func (s *Sweeper) applyOutcome(ctx context.Context, sess *viability.Session, d *viability.Decision) error {
	switch d.Action {
	case viability.ActionCancel:
		if err := s.store.MarkSessionCancelled(ctx, d.SessionID); err != nil {
			return err
		}
		ev := notify.CancellationEvent{
			SessionID: d.SessionID,
			Reason:    d.Reason,
			Language:  sess.Language,
			Country:   sess.Country,
			Region:    sess.Region,
		}
		s.notify(ctx, "cancellation", func(ctx context.Context) error {
			return s.notifier.SessionCancelled(ctx, ev)
		})
	case viability.ActionWarn:
		ev := notify.WarningEvent{
			SessionID:    d.SessionID,
			InstructorID: sess.InstructorID,
		}
		if d.Analysis != nil {
			ev.Current = d.Analysis.CurrentEnrollments
			ev.Required = d.Analysis.MinRequired
		}
		s.notify(ctx, "warning", func(ctx context.Context) error {
			return s.notifier.LowEnrollmentWarning(ctx, ev)
		})
	}
	return nil
}

func (s *Sweeper) notify(ctx context.Context, kind string, send func(ctx context.Context) error) {
	if err := send(ctx); err != nil {
		// Logged by the notifier; the decision stands either way.
		if s.metrics != nil {
			s.metrics.RecordNotification(kind, "failed")
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RecordNotification(kind, "sent")
	}
}
