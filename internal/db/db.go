// Package db is the run ledger: a SQLite record of pipeline runs, step
// outcomes and truncation estimates.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
}

// DefaultPath returns the ledger location for an output root.
func DefaultPath(outputRoot string) string {
	return filepath.Join(outputRoot, ".ampliflow", "ledger.db")
}

// Open opens or creates the database at the given path. Use ":memory:" for a
// throwaway ledger.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, path: path, logger: logger.With("component", "ledger")}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the file the ledger lives in.
func (d *DB) Path() string {
	return d.path
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    pipeline    TEXT NOT NULL,
    status      TEXT NOT NULL CHECK(status IN ('running','completed','aborted')),
    failed_step TEXT,
    started_at  TEXT NOT NULL,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS step_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step        TEXT NOT NULL,
    result      TEXT NOT NULL CHECK(result IN ('skipped','succeeded','failed_hard','failed_soft','would_run')),
    required    BOOLEAN NOT NULL,
    reason      TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_step_results_run ON step_results(run_id, id);

CREATE TABLE IF NOT EXISTS truncation_records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    sample_id   TEXT NOT NULL,
    direction   TEXT NOT NULL CHECK(direction IN ('forward','reverse')),
    cutoff      INTEGER,
    source      TEXT
);
CREATE INDEX IF NOT EXISTS idx_truncation_run ON truncation_records(run_id, sample_id);

CREATE TABLE IF NOT EXISTS aggregate_stats (
    run_id      TEXT NOT NULL,
    direction   TEXT NOT NULL CHECK(direction IN ('forward','reverse')),
    total       INTEGER NOT NULL,
    usable      INTEGER NOT NULL,
    unavailable INTEGER NOT NULL,
    mean        INTEGER NOT NULL,
    median      INTEGER NOT NULL,
    chosen      INTEGER NOT NULL,
    method      TEXT NOT NULL,
    threshold   REAL NOT NULL,
    policy      TEXT NOT NULL,
    recorded_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (run_id, direction)
);
`

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	d.logger.Debug("applying schema", "version", 1)
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"aggregate_stats", "truncation_records", "step_results", "runs", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
