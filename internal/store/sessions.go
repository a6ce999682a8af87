package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/viability"
)

const sessionColumns = `id, language, country, region, instructor_id, start_time,
	duration_minutes, enrollment_count, min_attendance_override, profit_target_override,
	check_status, cancellation_deadline, attendance_check_time, created_at, updated_at`

// CreateSession inserts a session. Status starts at PENDING unless set.
func (s *Store) CreateSession(ctx context.Context, sess viability.Session) (*viability.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = viability.StatusPending
	}
	now := time.Now().UnixMilli()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	query := `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Language, sess.Country, sess.Region, sess.InstructorID,
		sess.StartTime.UnixMilli(), sess.DurationMinutes, sess.EnrollmentCount,
		nullableInt(sess.MinAttendanceOverride), nullableInt(sess.ProfitTargetOverride),
		string(sess.Status), nullableTime(sess.CancellationDeadline), nullableTime(sess.AttendanceCheckTime),
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.NewStoreError("create", "session", sess.ID, err)
	}
	return &sess, nil
}

// GetSession retrieves a session by ID. Returns (nil, nil) when missing.
// Implements viability.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*viability.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get", "session", id, err)
	}
	return sess, nil
}

// ListUndecidedSessions returns sessions still PENDING or FAILED whose start
// time is after the given instant, in start order.
func (s *Store) ListUndecidedSessions(ctx context.Context, after time.Time) ([]*viability.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE check_status IN (?, ?) AND start_time > ?
		 ORDER BY start_time, id`,
		string(viability.StatusPending), string(viability.StatusFailed), after.UnixMilli())
	if err != nil {
		return nil, apperrors.NewStoreError("list_undecided", "session", "", err)
	}
	defer rows.Close()

	var sessions []*viability.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.NewStoreError("scan", "session", "", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateCheckStatus writes the decision machine's status transition plus the
// derived deadline and check time. Implements viability.SessionStore. The
// write is idempotent: re-writing the same status is a no-op in effect.
// CANCELLED is terminal and never overwritten here.
func (s *Store) UpdateCheckStatus(ctx context.Context, id string, status viability.Status, deadline, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET check_status = ?, cancellation_deadline = ?, attendance_check_time = ?, updated_at = ?
		 WHERE id = ? AND check_status != ?`,
		string(status), deadline.UnixMilli(), checkedAt.UnixMilli(), time.Now().UnixMilli(),
		id, string(viability.StatusCancelled))
	if err != nil {
		return apperrors.NewStoreError("update_status", "session", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already cancelled; distinguish for the caller.
		existing, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperrors.NewStoreError("update_status", "session", id, apperrors.ErrNotFound)
		}
		return apperrors.NewStoreError("update_status", "session", id, apperrors.ErrSessionFinal)
	}
	return nil
}

// MarkSessionCancelled moves a session to the terminal CANCELLED status.
// Calling it on an already-cancelled session is a no-op.
func (s *Store) MarkSessionCancelled(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET check_status = ?, updated_at = ?
		 WHERE id = ? AND check_status != ?`,
		string(viability.StatusCancelled), time.Now().UnixMilli(),
		id, string(viability.StatusCancelled))
	if err != nil {
		return apperrors.NewStoreError("mark_cancelled", "session", id, err)
	}
	return nil
}

// UpdateEnrollment sets a session's live enrollment count. Other subsystems
// call this as participants join and leave.
func (s *Store) UpdateEnrollment(ctx context.Context, id string, count int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET enrollment_count = ?, updated_at = ? WHERE id = ?`,
		count, time.Now().UnixMilli(), id)
	if err != nil {
		return apperrors.NewStoreError("update_enrollment", "session", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewStoreError("update_enrollment", "session", id, apperrors.ErrNotFound)
	}
	return nil
}

func scanSession(row scanner) (*viability.Session, error) {
	var sess viability.Session
	var status string
	var startTime int64
	var minOverride, profitOverride sql.NullInt64
	var deadline, checkTime sql.NullInt64

	err := row.Scan(
		&sess.ID, &sess.Language, &sess.Country, &sess.Region, &sess.InstructorID,
		&startTime, &sess.DurationMinutes, &sess.EnrollmentCount,
		&minOverride, &profitOverride,
		&status, &deadline, &checkTime,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.StartTime = time.UnixMilli(startTime).UTC()
	sess.Status = viability.Status(status)
	if minOverride.Valid {
		v := int(minOverride.Int64)
		sess.MinAttendanceOverride = &v
	}
	if profitOverride.Valid {
		v := int(profitOverride.Int64)
		sess.ProfitTargetOverride = &v
	}
	if deadline.Valid {
		sess.CancellationDeadline = time.UnixMilli(deadline.Int64).UTC()
	}
	if checkTime.Valid {
		sess.AttendanceCheckTime = time.UnixMilli(checkTime.Int64).UTC()
	}
	return &sess, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
