package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migrate runs all schema migrations for dialect. It is safe to run on every
// start.
func Migrate(db *sql.DB, dialect Dialect) error {
	stmts := sqliteMigrations
	if dialect == DialectPostgres {
		stmts = postgresMigrations
	}
	for i, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			// Tolerate "duplicate column name" errors from ALTER TABLE
			// since the migration system re-runs all statements.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		version       INTEGER NOT NULL,
		current_stage TEXT NOT NULL,
		current_step  TEXT NOT NULL DEFAULT '',
		snapshot      TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stage_recaps (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		stage      TEXT NOT NULL,
		ordinal    INTEGER NOT NULL,
		summary    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (session_id, stage)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,

	// Completion flag used by list filters.
	`ALTER TABLE sessions ADD COLUMN complete INTEGER NOT NULL DEFAULT 0`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		version       INTEGER NOT NULL,
		current_stage TEXT NOT NULL,
		current_step  TEXT NOT NULL DEFAULT '',
		snapshot      TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stage_recaps (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		stage      TEXT NOT NULL,
		ordinal    INTEGER NOT NULL,
		summary    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (session_id, stage)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	`ALTER TABLE sessions ADD COLUMN IF NOT EXISTS complete INTEGER NOT NULL DEFAULT 0`,
}
