package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// Checkpoints are JSON round-tripped on write and read so callers get the
// same value shapes a durable backend would produce and can never alias the
// stored copy.
type MemoryStore[S any] struct {
	mu       sync.RWMutex
	sessions map[string][]json.RawMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore[S any]() *MemoryStore[S] {
	return &MemoryStore[S]{sessions: make(map[string][]json.RawMessage)}
}

// Append implements Store.
func (m *MemoryStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.Seq != len(m.sessions[cp.SessionID])+1 {
		return fmt.Errorf("session %q seq %d: %w", cp.SessionID, cp.Seq, ErrSequenceConflict)
	}
	m.sessions[cp.SessionID] = append(m.sessions[cp.SessionID], data)
	return nil
}

// Latest implements Store.
func (m *MemoryStore[S]) Latest(ctx context.Context, sessionID string) (Checkpoint[S], error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint[S]{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.sessions[sessionID]
	if len(cps) == 0 {
		return Checkpoint[S]{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return decodeCheckpoint[S](cps[len(cps)-1])
}

// History implements Store.
func (m *MemoryStore[S]) History(ctx context.Context, sessionID string) ([]Checkpoint[S], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	raw := m.sessions[sessionID]
	out := make([]Checkpoint[S], 0, len(raw))
	for _, data := range raw {
		cp, err := decodeCheckpoint[S](data)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func decodeCheckpoint[S any](data []byte) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return cp, nil
}
