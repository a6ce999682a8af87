package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/notify"
	"github.com/lingoloop/viability/internal/viability"
)

var sweepNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory sweep.Store.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*viability.Session
	listErr   error
	cancelErr error
	cancelled []string
}

func newMemStore(sessions ...*viability.Session) *memStore {
	s := &memStore{sessions: make(map[string]*viability.Session)}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}
	return s
}

func (s *memStore) GetSession(_ context.Context, id string) (*viability.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) ListUndecidedSessions(_ context.Context, after time.Time) ([]*viability.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*viability.Session
	for _, sess := range s.sessions {
		if sess.Status != viability.StatusCancelled && sess.Status != viability.StatusPassed && sess.StartTime.After(after) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) MarkSessionCancelled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, id)
	if sess, ok := s.sessions[id]; ok {
		sess.Status = viability.StatusCancelled
	}
	return nil
}

// fakeDecider returns canned decisions keyed by session ID.
type fakeDecider struct {
	mu        sync.Mutex
	decisions map[string]*viability.Decision
	errs      map[string]error
	checked   []string
}

func (d *fakeDecider) Check(_ context.Context, sess *viability.Session) (*viability.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checked = append(d.checked, sess.ID)
	if err, ok := d.errs[sess.ID]; ok {
		return nil, err
	}
	if dec, ok := d.decisions[sess.ID]; ok {
		return dec, nil
	}
	return &viability.Decision{SessionID: sess.ID, Status: viability.StatusPending, Action: viability.ActionExtend}, nil
}

// recordingNotifier captures dispatched events.
type recordingNotifier struct {
	mu            sync.Mutex
	cancellations []notify.CancellationEvent
	warnings      []notify.WarningEvent
	failCancel    error
}

func (n *recordingNotifier) SessionCancelled(_ context.Context, ev notify.CancellationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failCancel != nil {
		return n.failCancel
	}
	n.cancellations = append(n.cancellations, ev)
	return nil
}

func (n *recordingNotifier) LowEnrollmentWarning(_ context.Context, ev notify.WarningEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, ev)
	return nil
}

func upcomingSession(id string, hours float64) *viability.Session {
	return &viability.Session{
		ID:           id,
		Language:     "en",
		Country:      "US",
		InstructorID: "inst-1",
		StartTime:    sweepNow.Add(time.Duration(hours * float64(time.Hour))),
		Status:       viability.StatusPending,
	}
}

func decision(id string, status viability.Status, action viability.Action) *viability.Decision {
	return &viability.Decision{SessionID: id, Status: status, Action: action, CheckedAt: sweepNow}
}

func newTestSweeper(store *memStore, decider *fakeDecider, notifier notify.Notifier, workers int) *Sweeper {
	return New(store, decider, notifier, time.Minute, workers, zerolog.Nop(), WithClock(func() time.Time { return sweepNow }))
}

func TestSweep_AppliesOutcomes(t *testing.T) {
	cancelMe := upcomingSession("s-cancel", 20)
	warnMe := upcomingSession("s-warn", 20)
	proceeds := upcomingSession("s-pass", 48)
	broken := upcomingSession("s-broken", 20)

	store := newMemStore(cancelMe, warnMe, proceeds, broken)
	decider := &fakeDecider{
		decisions: map[string]*viability.Decision{
			"s-cancel": decision("s-cancel", viability.StatusFailed, viability.ActionCancel),
			"s-warn": {
				SessionID: "s-warn",
				Status:    viability.StatusFailed,
				Action:    viability.ActionWarn,
				Analysis:  &viability.Analysis{SessionID: "s-warn", CurrentEnrollments: 2, MinRequired: 4},
			},
			"s-pass": decision("s-pass", viability.StatusPassed, viability.ActionProceed),
		},
		errs: map[string]error{"s-broken": errors.New("config backend down")},
	}
	notifier := &recordingNotifier{}

	result := newTestSweeper(store, decider, notifier, 2).Sweep(context.Background())

	assert.Equal(t, 4, result.Checked)
	assert.Equal(t, []string{"s-cancel"}, result.Cancelled)
	assert.Equal(t, []string{"s-warn"}, result.Warned)
	assert.Equal(t, []string{"s-broken"}, result.Errored)
	assert.Equal(t, sweepNow, result.StartedAt)

	assert.Equal(t, []string{"s-cancel"}, store.cancelled)

	require.Len(t, notifier.cancellations, 1)
	assert.Equal(t, "en", notifier.cancellations[0].Language)
	assert.Equal(t, "US", notifier.cancellations[0].Country)

	require.Len(t, notifier.warnings, 1)
	assert.Equal(t, "inst-1", notifier.warnings[0].InstructorID)
	assert.Equal(t, 2, notifier.warnings[0].Current)
	assert.Equal(t, 4, notifier.warnings[0].Required)
}

func TestSweep_SessionErrorDoesNotStopOthers(t *testing.T) {
	store := newMemStore(
		upcomingSession("s-1", 20),
		upcomingSession("s-2", 20),
		upcomingSession("s-3", 20),
	)
	decider := &fakeDecider{
		decisions: map[string]*viability.Decision{
			"s-1": decision("s-1", viability.StatusPassed, viability.ActionProceed),
			"s-3": decision("s-3", viability.StatusPassed, viability.ActionProceed),
		},
		errs: map[string]error{"s-2": errors.New("boom")},
	}

	result := newTestSweeper(store, decider, &recordingNotifier{}, 1).Sweep(context.Background())

	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, []string{"s-2"}, result.Errored)
	assert.Len(t, decider.checked, 3)
}

func TestSweep_CancelWriteFailureIsErrored(t *testing.T) {
	store := newMemStore(upcomingSession("s-1", 20))
	store.cancelErr = errors.New("disk full")
	decider := &fakeDecider{decisions: map[string]*viability.Decision{
		"s-1": decision("s-1", viability.StatusFailed, viability.ActionCancel),
	}}
	notifier := &recordingNotifier{}

	result := newTestSweeper(store, decider, notifier, 1).Sweep(context.Background())

	assert.Empty(t, result.Cancelled)
	assert.Equal(t, []string{"s-1"}, result.Errored)
	assert.Empty(t, notifier.cancellations, "no cancellation announced when the write failed")
}

func TestSweep_NotificationFailureKeepsDecision(t *testing.T) {
	store := newMemStore(upcomingSession("s-1", 20))
	decider := &fakeDecider{decisions: map[string]*viability.Decision{
		"s-1": decision("s-1", viability.StatusFailed, viability.ActionCancel),
	}}
	notifier := &recordingNotifier{failCancel: errors.New("slack 503")}

	result := newTestSweeper(store, decider, notifier, 1).Sweep(context.Background())

	assert.Equal(t, []string{"s-1"}, result.Cancelled)
	assert.Empty(t, result.Errored)
	assert.Equal(t, []string{"s-1"}, store.cancelled)
}

func TestSweep_ListFailure(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("db locked")

	s := newTestSweeper(store, &fakeDecider{}, &recordingNotifier{}, 1)
	result := s.Sweep(context.Background())

	assert.Equal(t, 0, result.Checked)
	assert.Empty(t, result.Errored)
	require.NotNil(t, s.LastResult())
}

func TestLastResult(t *testing.T) {
	store := newMemStore(upcomingSession("s-1", 48))
	s := newTestSweeper(store, &fakeDecider{}, &recordingNotifier{}, 1)

	assert.Nil(t, s.LastResult())

	s.Sweep(context.Background())
	last := s.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Checked)

	// Mutating the copy does not leak back.
	last.Checked = 99
	assert.Equal(t, 1, s.LastResult().Checked)
}

func TestCheckOne_AppliesOutcome(t *testing.T) {
	store := newMemStore(upcomingSession("s-1", 20))
	decider := &fakeDecider{decisions: map[string]*viability.Decision{
		"s-1": decision("s-1", viability.StatusFailed, viability.ActionCancel),
	}}
	notifier := &recordingNotifier{}

	d, err := newTestSweeper(store, decider, notifier, 1).CheckOne(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, viability.ActionCancel, d.Action)
	assert.Equal(t, []string{"s-1"}, store.cancelled)
	assert.Len(t, notifier.cancellations, 1)
}

func TestCheckOne_MissingSession(t *testing.T) {
	s := newTestSweeper(newMemStore(), &fakeDecider{}, &recordingNotifier{}, 1)
	_, err := s.CheckOne(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
