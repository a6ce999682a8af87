package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/threshold"
	"github.com/lingoloop/viability/internal/viability"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConfig(lang, country, region string) threshold.Config {
	return threshold.Config{
		Name:                      "sample",
		Language:                  lang,
		Country:                   threshold.Exactly(country),
		Region:                    threshold.Exactly(region),
		MinAttendance:             4,
		ProfitTarget:              8,
		InstructorHourlyRate:      25,
		RevenuePerStudent:         24.99,
		AutoCancel:                true,
		CancellationDeadlineHours: 24,
		Active:                    true,
		Priority:                  0,
	}
}

func sampleSession(lang string, start time.Time) viability.Session {
	return viability.Session{
		Language:        lang,
		InstructorID:    "inst-1",
		StartTime:       start,
		DurationMinutes: 60,
		EnrollmentCount: 3,
	}
}

func TestCreateAndGetConfig(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateConfig(ctx, sampleConfig("en", "US", "EMEA"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := s.GetConfig(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, "US", got.Country.Value())
	assert.Equal(t, "EMEA", got.Region.Value())
	assert.True(t, got.AutoCancel)
	assert.True(t, got.Active)
	assert.InDelta(t, 24.99, got.RevenuePerStudent, 0.001)
}

func TestCreateConfig_DuplicateScopeRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateConfig(ctx, sampleConfig("en", "US", ""))
	require.NoError(t, err)

	_, err = s.CreateConfig(ctx, sampleConfig("en", "US", ""))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateScope)

	// Differing region is a different scope.
	_, err = s.CreateConfig(ctx, sampleConfig("en", "US", "EMEA"))
	assert.NoError(t, err)
}

func TestCreateConfig_WildcardScopesAreDistinctScopes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateConfig(ctx, sampleConfig("en", "", ""))
	require.NoError(t, err)
	_, err = s.CreateConfig(ctx, sampleConfig("en", "", ""))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateScope)
}

func TestIsUniqueViolation_OnlyConstraintCodes(t *testing.T) {
	// Non-driver errors (and driver errors without a constraint code) must
	// surface as store errors, never as a duplicate scope.
	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed: threshold_configs")))
	assert.False(t, isUniqueViolation(apperrors.ErrNotFound))
}

func TestConfig_WildcardRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateConfig(ctx, sampleConfig("en", "", ""))
	require.NoError(t, err)

	got, err := s.GetConfig(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Country.IsWildcard())
	assert.True(t, got.Region.IsWildcard())
}

func TestUpdateConfig(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateConfig(ctx, sampleConfig("en", "US", ""))
	require.NoError(t, err)

	created.MinAttendance = 6
	created.Active = false
	updated, err := s.UpdateConfig(ctx, *created)
	require.NoError(t, err)
	assert.Equal(t, 6, updated.MinAttendance)
	assert.False(t, updated.Active)
}

func TestUpdateConfig_ScopeCollision(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateConfig(ctx, sampleConfig("en", "US", ""))
	require.NoError(t, err)
	other, err := s.CreateConfig(ctx, sampleConfig("en", "CA", ""))
	require.NoError(t, err)

	other.Country = threshold.Exactly("US")
	_, err = s.UpdateConfig(ctx, *other)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateScope)
}

func TestUpdateConfig_Missing(t *testing.T) {
	s := setupTestStore(t)
	cfg := sampleConfig("en", "US", "")
	cfg.ID = "ghost"
	_, err := s.UpdateConfig(context.Background(), cfg)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteConfig(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateConfig(ctx, sampleConfig("en", "US", ""))
	require.NoError(t, err)
	require.NoError(t, s.DeleteConfig(ctx, created.ID))

	got, err := s.GetConfig(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.DeleteConfig(ctx, created.ID), apperrors.ErrNotFound)
}

func TestActiveConfigs_FiltersAndOrders(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.CreateConfig(ctx, sampleConfig("en", "US", ""))
	require.NoError(t, err)
	inactive := sampleConfig("en", "CA", "")
	inactive.Active = false
	_, err = s.CreateConfig(ctx, inactive)
	require.NoError(t, err)
	_, err = s.CreateConfig(ctx, sampleConfig("fr", "FR", ""))
	require.NoError(t, err)
	second, err := s.CreateConfig(ctx, sampleConfig("en", "", ""))
	require.NoError(t, err)

	active, err := s.ActiveConfigs(ctx, "en")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, second.ID, active[1].ID)
}

func TestCreateAndGetSession(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

	created, err := s.CreateSession(ctx, sampleSession("en", start))
	require.NoError(t, err)
	assert.Equal(t, viability.StatusPending, created.Status)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, start, got.StartTime)
	assert.Equal(t, 3, got.EnrollmentCount)
	assert.Nil(t, got.MinAttendanceOverride)
	assert.True(t, got.CancellationDeadline.IsZero())
}

func TestSession_OverrideRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := sampleSession("en", time.Now().Add(48*time.Hour))
	min := 2
	sess.MinAttendanceOverride = &min

	created, err := s.CreateSession(ctx, sess)
	require.NoError(t, err)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MinAttendanceOverride)
	assert.Equal(t, 2, *got.MinAttendanceOverride)
	assert.Nil(t, got.ProfitTargetOverride)
}

func TestGetSession_Missing(t *testing.T) {
	s := setupTestStore(t)
	got, err := s.GetSession(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListUndecidedSessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	pending, err := s.CreateSession(ctx, sampleSession("en", now.Add(48*time.Hour)))
	require.NoError(t, err)

	failed := sampleSession("en", now.Add(12*time.Hour))
	failed.Status = viability.StatusFailed
	failedCreated, err := s.CreateSession(ctx, failed)
	require.NoError(t, err)

	passed := sampleSession("en", now.Add(24*time.Hour))
	passed.Status = viability.StatusPassed
	_, err = s.CreateSession(ctx, passed)
	require.NoError(t, err)

	past := sampleSession("en", now.Add(-time.Hour))
	_, err = s.CreateSession(ctx, past)
	require.NoError(t, err)

	got, err := s.ListUndecidedSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by start time: the failed one starts sooner.
	assert.Equal(t, failedCreated.ID, got[0].ID)
	assert.Equal(t, pending.ID, got[1].ID)
}

func TestUpdateCheckStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

	created, err := s.CreateSession(ctx, sampleSession("en", start))
	require.NoError(t, err)

	deadline := start.Add(-24 * time.Hour)
	checked := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateCheckStatus(ctx, created.ID, viability.StatusFailed, deadline, checked))

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, viability.StatusFailed, got.Status)
	assert.Equal(t, deadline, got.CancellationDeadline)
	assert.Equal(t, checked, got.AttendanceCheckTime)
}

func TestUpdateCheckStatus_CancelledIsTerminal(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, sampleSession("en", time.Now().Add(48*time.Hour)))
	require.NoError(t, err)
	require.NoError(t, s.MarkSessionCancelled(ctx, created.ID))

	err = s.UpdateCheckStatus(ctx, created.ID, viability.StatusPassed, time.Now(), time.Now())
	assert.ErrorIs(t, err, apperrors.ErrSessionFinal)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, viability.StatusCancelled, got.Status)
}

func TestMarkSessionCancelled_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, sampleSession("en", time.Now().Add(48*time.Hour)))
	require.NoError(t, err)
	require.NoError(t, s.MarkSessionCancelled(ctx, created.ID))
	require.NoError(t, s.MarkSessionCancelled(ctx, created.ID))
}

func TestUpdateEnrollment(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, sampleSession("en", time.Now().Add(48*time.Hour)))
	require.NoError(t, err)
	require.NoError(t, s.UpdateEnrollment(ctx, created.ID, 9))

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.EnrollmentCount)

	assert.ErrorIs(t, s.UpdateEnrollment(ctx, "ghost", 1), apperrors.ErrNotFound)
}
