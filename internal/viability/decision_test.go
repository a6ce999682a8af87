package viability

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
	"github.com/lingoloop/viability/internal/threshold"
	"github.com/lingoloop/viability/internal/ttlcache"
)

// memStore is an in-memory SessionStore for machine tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	getErr   error
	writeErr error
	writes   int
}

func newMemStore(sessions ...*Session) *memStore {
	m := &memStore{sessions: make(map[string]*Session)}
	for _, s := range sessions {
		m.sessions[s.ID] = s
	}
	return m
}

func (m *memStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) UpdateCheckStatus(_ context.Context, id string, status Status, deadline, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return apperrors.NewStoreError("update_status", "session", id, apperrors.ErrNotFound)
	}
	s.Status = status
	s.CancellationDeadline = deadline
	s.AttendanceCheckTime = checkedAt
	m.writes++
	return nil
}

// checkNow is the frozen wall clock for machine tests.
var checkNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

// newTestMachine wires a machine with a frozen clock over the given store
// and configs.
func newTestMachine(t *testing.T, store *memStore, configs ...threshold.Config) *Machine {
	t.Helper()
	return newMachineWithSource(t, store, &configSource{configs: configs})
}

func newMachineWithSource(t *testing.T, store *memStore, src threshold.Source) *Machine {
	t.Helper()
	resolverCache := ttlcache.New[threshold.Resolved](64, 0)
	analysisCache := ttlcache.New[Analysis](64, 0)
	t.Cleanup(resolverCache.Stop)
	t.Cleanup(analysisCache.Stop)

	resolver := threshold.NewResolver(src, resolverCache, zerolog.Nop())
	analyzer := NewAnalyzer(resolver, analysisCache, zerolog.Nop(),
		WithAnalyzerClock(func() time.Time { return checkNow }))
	return NewMachine(store, resolver, analyzer, zerolog.Nop(),
		WithMachineClock(func() time.Time { return checkNow }))
}

// sessionStartingIn builds a PENDING session that starts the given number of
// hours after checkNow.
func sessionStartingIn(hours float64, enrollments int) *Session {
	return &Session{
		ID:              "sess-1",
		Language:        "en",
		StartTime:       checkNow.Add(time.Duration(hours * float64(time.Hour))),
		DurationMinutes: 60,
		EnrollmentCount: enrollments,
		Status:          StatusPending,
	}
}

// autoCancelConfig is a global config with auto-cancel and a 24h deadline.
func autoCancelConfig() threshold.Config {
	cfg := testConfig("cfg-auto")
	cfg.AutoCancel = true
	return cfg
}

func TestCheck_ViableSessionPasses(t *testing.T) {
	s := sessionStartingIn(48, 8)
	store := newMemStore(s)
	m := newTestMachine(t, store, autoCancelConfig())

	d, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, d.Status)
	assert.Equal(t, ActionProceed, d.Action)
	assert.Equal(t, StatusPassed, store.sessions[s.ID].Status)
}

func TestCheck_DeadlineReachedAutoCancel(t *testing.T) {
	// 3 enrollments against min 4, checked 23h before start with a 24h
	// deadline: FAILED + CANCEL.
	s := sessionStartingIn(23, 3)
	store := newMemStore(s)
	m := newTestMachine(t, store, autoCancelConfig())

	d, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, ActionCancel, d.Action)
	assert.Equal(t, 24, d.DeadlineHours)
	assert.True(t, d.AutoCancel)
}

func TestCheck_BeforeDeadlineExtends(t *testing.T) {
	// Same session checked 48h out: PENDING + EXTEND.
	s := sessionStartingIn(48, 3)
	store := newMemStore(s)
	m := newTestMachine(t, store, autoCancelConfig())

	d, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, ActionExtend, d.Action)
	assert.Equal(t, StatusPending, store.sessions[s.ID].Status)
}

func TestCheck_DeadlineReachedWarnWhenAutoCancelOff(t *testing.T) {
	s := sessionStartingIn(23, 3)
	store := newMemStore(s)
	m := newTestMachine(t, store, testConfig("cfg-warn"))

	d, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, ActionWarn, d.Action)
}

func TestCheck_NoConfigUsesDefaultDeadline(t *testing.T) {
	s := sessionStartingIn(23, 3)
	store := newMemStore(s)
	m := newTestMachine(t, store)

	d, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, threshold.DefaultDeadlineHours, d.DeadlineHours)
	// No config means auto-cancel defaults off: warn, never cancel.
	assert.Equal(t, ActionWarn, d.Action)
	require.NotNil(t, d.Analysis)
	assert.Equal(t, threshold.DefaultMinAttendance, d.Analysis.MinRequired)
}

func TestCheck_Idempotent(t *testing.T) {
	s := sessionStartingIn(23, 3)
	store := newMemStore(s)
	m := newTestMachine(t, store, autoCancelConfig())

	first, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	second, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, 2, store.writes)
	assert.Equal(t, StatusFailed, store.sessions[s.ID].Status)
}

func TestCheck_CancelledIsTerminal(t *testing.T) {
	s := sessionStartingIn(48, 20)
	s.Status = StatusCancelled
	store := newMemStore(s)
	m := newTestMachine(t, store, autoCancelConfig())

	d, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, d.Status)
	assert.Equal(t, ActionNone, d.Action)
	// No write happens for a terminal session, even a viable one.
	assert.Zero(t, store.writes)
	assert.Equal(t, StatusCancelled, store.sessions[s.ID].Status)
}

func TestCheck_WritesDerivedFields(t *testing.T) {
	s := sessionStartingIn(48, 8)
	store := newMemStore(s)
	m := newTestMachine(t, store, autoCancelConfig())

	_, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)

	got := store.sessions[s.ID]
	assert.Equal(t, s.StartTime.Add(-24*time.Hour), got.CancellationDeadline)
	assert.Equal(t, checkNow, got.AttendanceCheckTime)
}

func TestCheck_FreshAnalysisNearDeadline(t *testing.T) {
	s := sessionStartingIn(23, 3)
	store := newMemStore(s)
	m := newTestMachine(t, store, autoCancelConfig())

	// Stale cached analysis from an earlier poll claims 0 enrollments.
	stale := Compute(sessionStartingIn(23, 0), threshold.DefaultThresholds(), checkNow)
	m.analyzer.cache.Set(analysisKey(s.ID), *stale, time.Hour)

	d, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Analysis)
	assert.Equal(t, 3, d.Analysis.CurrentEnrollments)
}

func TestCheck_ConfigSourceFailureNoDecision(t *testing.T) {
	// A PENDING session one hour inside the near-deadline window, with a
	// config store outage: the check must abort with no status write and no
	// notification-worthy decision, not fail the session against defaults.
	s := sessionStartingIn(23, 3)
	store := newMemStore(s)
	src := &configSource{err: errors.New("database is locked")}
	m := newMachineWithSource(t, store, src)

	d, err := m.CheckSession(context.Background(), s.ID)
	require.Error(t, err)
	assert.Nil(t, d)
	assert.Zero(t, store.writes)
	assert.Equal(t, StatusPending, store.sessions[s.ID].Status)
}

func TestCheck_SingleResolutionPerCheck(t *testing.T) {
	// No config matches, so nothing lands in the resolver cache: a second
	// source call would show the check resolving its scope twice.
	s := sessionStartingIn(23, 3)
	src := &configSource{}
	m := newMachineWithSource(t, newMemStore(s), src)

	_, err := m.CheckSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestCheckSession_MissingSession(t *testing.T) {
	m := newTestMachine(t, newMemStore())
	_, err := m.CheckSession(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCheckSession_LoadFailure(t *testing.T) {
	store := newMemStore(sessionStartingIn(48, 8))
	store.getErr = errors.New("database is locked")
	m := newTestMachine(t, store, autoCancelConfig())

	_, err := m.CheckSession(context.Background(), "sess-1")
	assert.Error(t, err)
}

func TestCheck_WriteFailureSurfaces(t *testing.T) {
	s := sessionStartingIn(48, 8)
	store := newMemStore(s)
	store.writeErr = errors.New("disk full")
	m := newTestMachine(t, store, autoCancelConfig())

	_, err := m.CheckSession(context.Background(), s.ID)
	assert.Error(t, err)
	// Status unchanged: no decision this cycle, retried on the next sweep.
	assert.Equal(t, StatusPending, store.sessions[s.ID].Status)
}
