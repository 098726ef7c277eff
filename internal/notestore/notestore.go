// Package notestore persists the local, user-scoped note collection that the
// sync engine reads payloads from and writes reconciled records into.
package notestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	user_id      TEXT NOT NULL,
	note_id      TEXT NOT NULL,
	record       TEXT NOT NULL,
	updated_at_s INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, note_id)
);

CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes(user_id, updated_at_s);
`

// DB is a SQLite-backed note store. It satisfies engine.NoteStore.
type DB struct {
	conn *sql.DB
}

var _ engine.NoteStore = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("notestore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notestore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notestore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get returns the record for noteID, or apperr.ErrNotFound.
func (db *DB) Get(userID, noteID string) (models.NoteRecord, error) {
	var raw string
	err := db.conn.QueryRow(
		`SELECT record FROM notes WHERE user_id = ? AND note_id = ?`, userID, noteID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NoteRecord{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.NoteRecord{}, fmt.Errorf("notestore: read note: %w", err)
	}
	var rec models.NoteRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.NoteRecord{}, fmt.Errorf("notestore: decode note: %w", err)
	}
	return rec, nil
}

// Put inserts or replaces a record.
func (db *DB) Put(userID string, rec models.NoteRecord) error {
	if !rec.Valid() {
		return fmt.Errorf("notestore: record has no note id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("notestore: encode note: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO notes (user_id, note_id, record, updated_at_s)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, note_id) DO UPDATE SET
			record       = excluded.record,
			updated_at_s = excluded.updated_at_s
	`, userID, rec.NoteID, string(raw), updatedAtSeconds(rec))
	if err != nil {
		return fmt.Errorf("notestore: upsert note: %w", err)
	}
	return nil
}

// Remove deletes a record. Removing an absent note is not an error.
func (db *DB) Remove(userID, noteID string) error {
	if _, err := db.conn.Exec(
		`DELETE FROM notes WHERE user_id = ? AND note_id = ?`, userID, noteID,
	); err != nil {
		return fmt.Errorf("notestore: delete note: %w", err)
	}
	return nil
}

// All returns every record for userID, most recently updated first.
func (db *DB) All(userID string) ([]models.NoteRecord, error) {
	rows, err := db.conn.Query(
		`SELECT record FROM notes WHERE user_id = ? ORDER BY updated_at_s DESC, note_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("notestore: list notes: %w", err)
	}
	defer rows.Close()

	var out []models.NoteRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec models.NoteRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("notestore: decode note: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func updatedAtSeconds(rec models.NoteRecord) int64 {
	if ts, err := time.Parse(time.RFC3339, rec.UpdatedAtIso); err == nil {
		return ts.Unix()
	}
	return time.Now().Unix()
}
