package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Archive is a write-behind SQLite log of session transcripts. The
// in-memory Store stays authoritative; the archive exists so operators
// can inspect past conversations after the fact. Archive writes are
// best-effort and never fail a turn.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migration: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			key        TEXT NOT NULL PRIMARY KEY,
			summary    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key  TEXT NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_calls   TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_key, id);
	`)
	return err
}

// RecordMessages appends messages to a session's archived transcript,
// creating the session row on first write.
func (a *Archive) RecordMessages(key string, msgs ...Message) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("archive begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (key, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at
	`, key, now, now)
	if err != nil {
		return fmt.Errorf("archive session upsert: %w", err)
	}

	for _, m := range msgs {
		var toolCalls string
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("archive marshal tool calls: %w", err)
			}
			toolCalls = string(data)
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		_, err = tx.Exec(`
			INSERT INTO messages (session_key, role, content, tool_call_id, tool_calls, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, key, m.Role, m.Content, m.ToolCallID, toolCalls, ts.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("archive insert message: %w", err)
		}
	}

	return tx.Commit()
}

// SetSummary records the latest running summary for a session.
func (a *Archive) SetSummary(key, summary string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := a.db.Exec(`
		INSERT INTO sessions (key, summary, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`, key, summary, now, now)
	if err != nil {
		return fmt.Errorf("archive set summary: %w", err)
	}
	return nil
}

// Transcript returns the archived messages for a session in insertion order.
func (a *Archive) Transcript(key string) ([]Message, error) {
	rows, err := a.db.Query(`
		SELECT role, content, tool_call_id, tool_calls, created_at
		FROM messages WHERE session_key = ? ORDER BY id
	`, key)
	if err != nil {
		return nil, fmt.Errorf("archive transcript: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var toolCalls, createdAt string
		if err := rows.Scan(&m.Role, &m.Content, &m.ToolCallID, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("archive scan: %w", err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("archive unmarshal tool calls: %w", err)
			}
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Summary returns the archived running summary for a session, or an
// empty string if the session has never been archived.
func (a *Archive) Summary(key string) (string, error) {
	var summary string
	err := a.db.QueryRow(`SELECT summary FROM sessions WHERE key = ?`, key).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("archive summary: %w", err)
	}
	return summary, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
