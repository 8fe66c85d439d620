package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver
)

// MySQLStore persists checkpoints to MySQL for multi-node deployments where
// any node may load a session another node suspended.
//
// The DSN must include parseTime=true so timestamps scan into time.Time.
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id VARCHAR(191) NOT NULL,
	seq        INT NOT NULL,
	state      JSON NOT NULL,
	cursor     JSON NOT NULL,
	created_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (session_id, seq)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`

// NewMySQLStore connects to MySQL using the given DSN, verifies the
// connection, and prepares the checkpoint schema.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	if _, err := db.ExecContext(ctx, mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MySQLStore[S]{db: db}, nil
}

// Append implements Store. The sequence check and insert run in one
// transaction with the session's newest row locked, so concurrent writers
// on the same session serialize instead of interleaving.
func (s *MySQLStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
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
		"SELECT COALESCE(MAX(seq), 0) FROM checkpoints WHERE session_id = ? FOR UPDATE",
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
func (s *MySQLStore[S]) Latest(ctx context.Context, sessionID string) (Checkpoint[S], error) {
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
func (s *MySQLStore[S]) History(ctx context.Context, sessionID string) ([]Checkpoint[S], error) {
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

// Close releases the underlying connection pool.
func (s *MySQLStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
