package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per control loop run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			port TEXT NOT NULL DEFAULT '',
			baud INTEGER NOT NULL DEFAULT 0,
			classifier TEXT NOT NULL DEFAULT 'rule',
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Dispatches table - every command the loop tried to send
		`CREATE TABLE IF NOT EXISTS dispatches (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			tick INTEGER NOT NULL,
			gesture TEXT NOT NULL CHECK(gesture IN ('OPEN', 'FIST')),
			link_state TEXT NOT NULL,
			sent INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		// Templates table - recorded poses for the template classifier
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			gesture TEXT NOT NULL CHECK(gesture IN ('OPEN', 'FIST')),
			tolerance REAL NOT NULL DEFAULT 1.5,
			created_at DATETIME NOT NULL
		)`,

		// Template landmarks table - normalized landmark positions per template
		`CREATE TABLE IF NOT EXISTS template_landmarks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
			landmark_index INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_dispatches_session_id ON dispatches(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_template_landmarks_template_id ON template_landmarks(template_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
