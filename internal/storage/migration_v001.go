package storage

import "database/sql"

// migrateV001 creates the samples table, the intersection registry and the
// meta flag table. Every statement uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS samples (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			lat        REAL NOT NULL,
			long       REAL NOT NULL,
			accuracy   REAL NOT NULL DEFAULT 0,
			start_time INTEGER NOT NULL,
			end_time   INTEGER,
			geo_hash   TEXT NOT NULL DEFAULT '',
			wifi_hash  TEXT NOT NULL DEFAULT '',
			hash       TEXT NOT NULL DEFAULT '',
			CHECK (end_time IS NULL OR end_time >= start_time)
		)`,

		`CREATE TABLE IF NOT EXISTS intersecting_sick (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			object_id  TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			place      TEXT NOT NULL DEFAULT '',
			comments   TEXT NOT NULL DEFAULT '',
			from_time  INTEGER NOT NULL,
			to_time    INTEGER NOT NULL,
			long       REAL NOT NULL,
			lat        REAL NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_samples_end_time   ON samples(end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_start_time ON samples(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_sick_window        ON intersecting_sick(from_time, to_time)`,

		// At most one open sample.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_samples_single_open
			ON samples((end_time IS NULL)) WHERE end_time IS NULL`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
