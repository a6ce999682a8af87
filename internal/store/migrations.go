package store

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threshold_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		language TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		min_attendance INTEGER NOT NULL,
		profit_target INTEGER NOT NULL,
		instructor_hourly_rate REAL NOT NULL,
		revenue_per_student REAL NOT NULL,
		auto_cancel INTEGER NOT NULL DEFAULT 0,
		cancellation_deadline_hours INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Empty country/region mean wildcard; the unique index is what rejects
	-- an ambiguous duplicate scope outright.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_configs_scope
		ON threshold_configs(language, country, region);
	CREATE INDEX IF NOT EXISTS idx_configs_active ON threshold_configs(is_active, language);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		instructor_id TEXT NOT NULL DEFAULT '',
		start_time INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		enrollment_count INTEGER NOT NULL DEFAULT 0,
		min_attendance_override INTEGER,
		profit_target_override INTEGER,
		check_status TEXT NOT NULL DEFAULT 'PENDING',
		cancellation_deadline INTEGER,
		attendance_check_time INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(check_status);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}
