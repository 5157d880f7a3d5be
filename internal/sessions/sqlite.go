package sessions

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentkit/pkg/events"
)

// SQLiteStore implements Store on a single SQLite database. It offers the
// same append-only semantics as FileStore for hosts that prefer one file
// over a directory tree; the JSONL layout remains the canonical on-disk
// format.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at REAL NOT NULL,
	metadata   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_events (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	record     TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS session_todos (
	session_id TEXT PRIMARY KEY,
	todos      TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) a store at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite allows one writer; the store serializes through db anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateSession implements Store.
func (s *SQLiteStore) CreateSession(metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if metadata == nil {
		metadata = map[string]any{}
	}
	md, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (session_id, created_at, metadata) VALUES (?, ?, ?)`,
		sessionID, float64(time.Now().UnixNano())/1e9, string(md),
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// AppendEvent implements Store.
func (s *SQLiteStore) AppendEvent(sessionID string, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(seq) FROM session_events WHERE session_id = ?`, sessionID,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("infer seq: %w", err)
	}
	seq := last.Int64 + 1

	env := events.Envelope(event)
	env.Seq = seq
	env.TS = float64(time.Now().UnixNano()) / 1e9
	data, err := events.Marshal(event)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO session_events (session_id, seq, record) VALUES (?, ?, ?)`,
		sessionID, seq, string(data),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadEvents implements Store.
func (s *SQLiteStore) ReadEvents(sessionID string) ([]events.Event, error) {
	rows, err := s.db.Query(
		`SELECT record FROM session_events WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		e, err := events.Unmarshal([]byte(record))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadMetadata implements Store.
func (s *SQLiteStore) ReadMetadata(sessionID string) (map[string]any, error) {
	var md string
	err := s.db.QueryRow(
		`SELECT metadata FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&md)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(md), &out); err != nil {
		return map[string]any{}, nil
	}
	return out, nil
}

// ForkSession implements Store.
func (s *SQLiteStore) ForkSession(parentSessionID string, headSeq int64, metadata map[string]any) (string, error) {
	parentEvents, err := s.ReadEvents(parentSessionID)
	if err != nil {
		return "", err
	}
	if headSeq <= 0 {
		for _, e := range parentEvents {
			if seq := events.Envelope(e).Seq; seq > headSeq {
				headSeq = seq
			}
		}
		if headSeq <= 0 {
			return "", fmt.Errorf("fork %s: parent log is empty", parentSessionID)
		}
	}
	md := map[string]any{
		"parent_session_id": parentSessionID,
		"parent_head_seq":   headSeq,
	}
	for k, v := range metadata {
		md[k] = v
	}
	newID, err := s.CreateSession(md)
	if err != nil {
		return "", err
	}
	for _, e := range parentEvents {
		if forkSkips(e) {
			continue
		}
		if events.Envelope(e).Seq > headSeq {
			continue
		}
		dup, err := copyForFork(e)
		if err != nil {
			return "", err
		}
		if err := s.AppendEvent(newID, dup); err != nil {
			return "", err
		}
	}
	return newID, nil
}

// Checkpoint implements Store.
func (s *SQLiteStore) Checkpoint(sessionID, label string) error {
	var last sql.NullInt64
	if err := s.db.QueryRow(
		`SELECT MAX(seq) FROM session_events WHERE session_id = ?`, sessionID,
	).Scan(&last); err != nil {
		return err
	}
	return s.AppendEvent(sessionID, &events.SessionCheckpoint{Label: label, HeadSeq: last.Int64})
}

// SetHead implements Store.
func (s *SQLiteStore) SetHead(sessionID string, headSeq int64, reason string) error {
	if headSeq <= 0 {
		return fmt.Errorf("set_head: head_seq must be positive, got %d", headSeq)
	}
	return s.AppendEvent(sessionID, &events.SessionSetHead{HeadSeq: headSeq, Reason: reason})
}

// Undo implements Store.
func (s *SQLiteStore) Undo(sessionID string) error {
	return s.AppendEvent(sessionID, &events.SessionUndo{})
}

// Redo implements Store.
func (s *SQLiteStore) Redo(sessionID string) error {
	return s.AppendEvent(sessionID, &events.SessionRedo{})
}

// WriteTodos implements Store.
func (s *SQLiteStore) WriteTodos(sessionID string, todos any) error {
	data, err := json.Marshal(map[string]any{"todos": todos})
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO session_todos (session_id, todos) VALUES (?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET todos = excluded.todos`,
		sessionID, string(data),
	)
	return err
}
