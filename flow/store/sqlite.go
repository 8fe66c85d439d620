package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore persists checkpoints to a SQLite database. It is suitable for
// single-node deployments that need durability across restarts without an
// external database.
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	state      TEXT NOT NULL,
	cursor     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, seq DESC);
`

// NewSQLiteStore opens (creating if necessary) a SQLite database at path and
// prepares the checkpoint schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent sessions.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore[S]{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("store is closed")
	}

	stateJSON, cursorJSON, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM checkpoints WHERE session_id = ?",
		cp.SessionID,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("failed to read latest seq: %w", err)
	}
	if cp.Seq != latest+1 {
		return fmt.Errorf("session %q seq %d (latest %d): %w", cp.SessionID, cp.Seq, latest, ErrSequenceConflict)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO checkpoints (session_id, seq, state, cursor, created_at) VALUES (?, ?, ?, ?, ?)",
		cp.SessionID, cp.Seq, stateJSON, cursorJSON, cp.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *SQLiteStore[S]) Latest(ctx context.Context, sessionID string) (Checkpoint[S], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Checkpoint[S]{}, errors.New("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT seq, state, cursor, created_at FROM checkpoints WHERE session_id = ? ORDER BY seq DESC LIMIT 1",
		sessionID,
	)
	cp, err := scanCheckpoint[S](sessionID, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return cp, err
}

// History implements Store.
func (s *SQLiteStore[S]) History(ctx context.Context, sessionID string) ([]Checkpoint[S], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, state, cursor, created_at FROM checkpoints WHERE session_id = ? ORDER BY seq ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](sessionID, rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	if out == nil {
		out = []Checkpoint[S]{}
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func encodeCheckpoint[S any](cp Checkpoint[S]) (stateJSON, cursorJSON []byte, err error) {
	stateJSON, err = json.Marshal(cp.State)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	cursorJSON, err = json.Marshal(cp.Cursor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize cursor: %w", err)
	}
	return stateJSON, cursorJSON, nil
}

func scanCheckpoint[S any](sessionID string, scan func(...any) error) (Checkpoint[S], error) {
	var (
		cp         Checkpoint[S]
		stateJSON  []byte
		cursorJSON []byte
		createdAt  time.Time
	)
	if err := scan(&cp.Seq, &stateJSON, &cursorJSON, &createdAt); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to deserialize state: %w", err)
	}
	if err := json.Unmarshal(cursorJSON, &cp.Cursor); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to deserialize cursor: %w", err)
	}
	cp.SessionID = sessionID
	cp.CreatedAt = createdAt.UTC()
	return cp, nil
}
