// Package state provides SQLite-backed, user-scoped persistence for the sync
// engine's pending-operation queue and per-note metadata cursors. Values are
// stored as JSON in a single keyed table, one bucket per concern.
package state

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_state (
	user_id TEXT NOT NULL,
	bucket  TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (user_id, bucket)
);
`

const (
	bucketQueue    = "queue"
	bucketMetadata = "metadata"
)

// DB wraps a sql.DB with sync-state operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("state: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// get returns the raw JSON value for (userID, bucket), or nil when absent.
func (db *DB) get(userID, bucket string) ([]byte, error) {
	var value string
	err := db.conn.QueryRow(
		`SELECT value FROM sync_state WHERE user_id = ? AND bucket = ?`, userID, bucket,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", bucket, err)
	}
	return []byte(value), nil
}

func (db *DB) put(userID, bucket string, value []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO sync_state (user_id, bucket, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, bucket) DO UPDATE SET value = excluded.value
	`, userID, bucket, string(value))
	if err != nil {
		return fmt.Errorf("state: write %s: %w", bucket, err)
	}
	return nil
}

func (db *DB) clear(userID, bucket string) error {
	if _, err := db.conn.Exec(
		`DELETE FROM sync_state WHERE user_id = ? AND bucket = ?`, userID, bucket,
	); err != nil {
		return fmt.Errorf("state: clear %s: %w", bucket, err)
	}
	return nil
}
