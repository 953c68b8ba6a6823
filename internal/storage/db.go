// Package storage owns the project-local SQLite database. All durable
// engine state lives in one file under .skb so a backup or rm -rf of
// that directory is always consistent.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"skb/internal/config"
	"skb/internal/logging"
)

// DB represents a database connection with transaction helpers
type DB struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string
}

// Open opens or creates the SQLite database at .skb/skb.db and ensures
// the schema exists.
func Open(repoRoot string, logger *logging.Logger) (*DB, error) {
	dir := filepath.Join(repoRoot, config.Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", config.Dir, err)
	}

	dbPath := filepath.Join(dir, "skb.db")

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-64000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{
		conn:   conn,
		logger: logger.With("storage"),
		dbPath: dbPath,
	}

	if err := db.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS fragments (
    id           TEXT PRIMARY KEY,
    project_key  TEXT NOT NULL,
    file_path    TEXT NOT NULL,
    kind         TEXT NOT NULL,
    title        TEXT NOT NULL,
    content      TEXT NOT NULL,
    raw          BLOB NOT NULL,
    tags         TEXT NOT NULL DEFAULT '[]',
    vector       BLOB,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragments_file ON fragments(project_key, file_path);

CREATE TABLE IF NOT EXISTS learning_records (
    id           TEXT PRIMARY KEY,
    project_key  TEXT NOT NULL,
    domain       TEXT NOT NULL,
    question     TEXT NOT NULL,
    answer       TEXT NOT NULL,
    confidence   REAL NOT NULL DEFAULT 0,
    source_files TEXT NOT NULL DEFAULT '[]',
    vector       BLOB,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_domain ON learning_records(project_key, domain);

CREATE TABLE IF NOT EXISTS backoff_state (
    project_key    TEXT NOT NULL,
    task_key       TEXT NOT NULL,
    failures       INTEGER NOT NULL,
    next_allowed   INTEGER NOT NULL,
    PRIMARY KEY (project_key, task_key)
);

CREATE TABLE IF NOT EXISTS daily_quota (
    project_key  TEXT NOT NULL,
    day          TEXT NOT NULL,
    kind         TEXT NOT NULL,
    used         INTEGER NOT NULL,
    PRIMARY KEY (project_key, day, kind)
);

CREATE TABLE IF NOT EXISTS index_meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`

func (db *DB) initializeSchema() error {
	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.dbPath
}

// WithTx executes a function within a transaction. If the function
// returns an error the transaction is rolled back, otherwise committed.
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction", map[string]interface{}{
				"error":          err.Error(),
				"rollback_error": rbErr.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// GetMeta reads a value from the index metadata table
func (db *DB) GetMeta(key string) (string, bool, error) {
	var value string
	err := db.QueryRow("SELECT value FROM index_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta writes a value to the index metadata table
func (db *DB) SetMeta(key, value string) error {
	_, err := db.Exec(
		"INSERT INTO index_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}
