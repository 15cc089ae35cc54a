// Package sqlite provides persistent storage for the control engine:
// the equipment metadata repository, periodic control-state snapshots,
// and the lead-lag event audit trail.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS equipment (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			type        TEXT NOT NULL,
			location_id TEXT NOT NULL,
			group_id    TEXT NOT NULL DEFAULT '',
			subrole     TEXT NOT NULL DEFAULT '',
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equipment_location ON equipment(location_id, type)`,
		`CREATE TABLE IF NOT EXISTS equipment_aliases (
			alias        TEXT PRIMARY KEY,
			equipment_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state_snapshots (
			key        TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			saved_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leadlag_events (
			id        TEXT PRIMARY KEY,
			group_id  TEXT NOT NULL,
			kind      TEXT NOT NULL,
			from_id   TEXT NOT NULL,
			to_id     TEXT NOT NULL,
			reason    TEXT NOT NULL DEFAULT '',
			at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leadlag_group ON leadlag_events(group_id, at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
