package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/threshold"
)

const configColumns = `id, name, language, country, region, min_attendance, profit_target,
	instructor_hourly_rate, revenue_per_student, auto_cancel, cancellation_deadline_hours,
	is_active, priority, notes, created_at, updated_at`

// CreateConfig inserts a threshold config. A duplicate
// (language, country, region) scope is rejected with ErrDuplicateScope.
func (s *Store) CreateConfig(ctx context.Context, cfg threshold.Config) (*threshold.Config, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	query := `
	INSERT INTO threshold_configs (` + configColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		cfg.ID, cfg.Name, cfg.Language, cfg.Country.Value(), cfg.Region.Value(),
		cfg.MinAttendance, cfg.ProfitTarget,
		cfg.InstructorHourlyRate, cfg.RevenuePerStudent,
		boolToInt(cfg.AutoCancel), cfg.CancellationDeadlineHours,
		boolToInt(cfg.Active), cfg.Priority, cfg.Notes,
		cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrDuplicateScope
		}
		return nil, apperrors.NewStoreError("create", "threshold_config", cfg.ID, err)
	}
	return &cfg, nil
}

// GetConfig retrieves a config by ID. Returns (nil, nil) when missing.
func (s *Store) GetConfig(ctx context.Context, id string) (*threshold.Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM threshold_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get", "threshold_config", id, err)
	}
	return cfg, nil
}

// UpdateConfig overwrites a config's mutable fields. Scope changes that
// collide with another config's scope are rejected with ErrDuplicateScope.
func (s *Store) UpdateConfig(ctx context.Context, cfg threshold.Config) (*threshold.Config, error) {
	cfg.UpdatedAt = time.Now().UnixMilli()

	query := `
	UPDATE threshold_configs
	SET name = ?, language = ?, country = ?, region = ?,
		min_attendance = ?, profit_target = ?,
		instructor_hourly_rate = ?, revenue_per_student = ?,
		auto_cancel = ?, cancellation_deadline_hours = ?,
		is_active = ?, priority = ?, notes = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		cfg.Name, cfg.Language, cfg.Country.Value(), cfg.Region.Value(),
		cfg.MinAttendance, cfg.ProfitTarget,
		cfg.InstructorHourlyRate, cfg.RevenuePerStudent,
		boolToInt(cfg.AutoCancel), cfg.CancellationDeadlineHours,
		boolToInt(cfg.Active), cfg.Priority, cfg.Notes, cfg.UpdatedAt,
		cfg.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrDuplicateScope
		}
		return nil, apperrors.NewStoreError("update", "threshold_config", cfg.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.NewStoreError("update", "threshold_config", cfg.ID, apperrors.ErrNotFound)
	}
	return s.GetConfig(ctx, cfg.ID)
}

// DeleteConfig removes a config by ID.
func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threshold_configs WHERE id = ?`, id)
	if err != nil {
		return apperrors.NewStoreError("delete", "threshold_config", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewStoreError("delete", "threshold_config", id, apperrors.ErrNotFound)
	}
	return nil
}

// ListConfigs returns all configs in stable creation order.
func (s *Store) ListConfigs(ctx context.Context) ([]threshold.Config, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configColumns+` FROM threshold_configs ORDER BY created_at, id`)
}

// ActiveConfigs returns active configs for a language in stable creation
// order. Implements threshold.Source.
func (s *Store) ActiveConfigs(ctx context.Context, language string) ([]threshold.Config, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configColumns+` FROM threshold_configs
		 WHERE is_active = 1 AND language = ? ORDER BY created_at, id`, language)
}

func (s *Store) queryConfigs(ctx context.Context, query string, args ...any) ([]threshold.Config, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreError("list", "threshold_config", "", err)
	}
	defer rows.Close()

	var configs []threshold.Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, apperrors.NewStoreError("scan", "threshold_config", "", err)
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(row scanner) (*threshold.Config, error) {
	var cfg threshold.Config
	var country, region string
	var autoCancel, active int

	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Language, &country, &region,
		&cfg.MinAttendance, &cfg.ProfitTarget,
		&cfg.InstructorHourlyRate, &cfg.RevenuePerStudent,
		&autoCancel, &cfg.CancellationDeadlineHours,
		&active, &cfg.Priority, &cfg.Notes,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Empty columns round-trip to wildcards.
	cfg.Country = threshold.Exactly(country)
	cfg.Region = threshold.Exactly(region)
	cfg.AutoCancel = autoCancel != 0
	cfg.Active = active != 0
	return &cfg, nil
}

// isUniqueViolation reports whether err is a sqlite UNIQUE (or primary key)
// constraint failure, matched on the driver's result code rather than the
// message text.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
