// Package db provides the sqlite connection and schema for the connection ledger.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	// Append-only; one row per lifecycle step, several rows per connect attempt.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS connection_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			fixture TEXT NOT NULL,
			address TEXT,
			family TEXT,
			attempt_id TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_connection_fixture_ts ON connection_ledger(fixture, timestamp);
		CREATE INDEX IF NOT EXISTS idx_connection_type_ts ON connection_ledger(event_type, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create connection_ledger table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_connection_attempt
		ON connection_ledger(attempt_id)
		WHERE attempt_id IS NOT NULL AND attempt_id != '';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_connection_attempt index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
