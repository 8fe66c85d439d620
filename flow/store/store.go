// Package store defines the checkpoint persistence contract for workflow
// sessions and provides memory, SQLite, MySQL, and Redis implementations.
//
// A checkpoint is written after every completed step, so a session can be
// reloaded from its latest checkpoint after a suspend or a process restart
// and lose at most the step that was in flight.
package store

import (
	"context"
	"errors"
	"time"
)

// Common store errors.
var (
	// ErrNotFound is returned when no checkpoint exists for a session.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrSequenceConflict is returned by Append when the checkpoint's
	// sequence number is not exactly one past the session's latest. It
	// indicates two writers racing on one session.
	ErrSequenceConflict = errors.New("checkpoint sequence conflict")
)

// Status describes where a session stands after its latest checkpoint.
type Status string

const (
	// StatusRunning means the checkpointed step completed and the run was
	// about to route onward. A latest checkpoint in this status after a
	// restart identifies an interrupted run.
	StatusRunning Status = "running"

	// StatusSuspended means the session is paused waiting for an
	// external value.
	StatusSuspended Status = "suspended"

	// StatusDone means the run reached the terminal target.
	StatusDone Status = "done"

	// StatusFailed means the run stopped on a step failure.
	StatusFailed Status = "failed"
)

// Cursor records execution position alongside the state: the step the
// checkpoint belongs to and what happened to it. The successor step is not
// stored; routing is deterministic over the state and the cursor, so it is
// recomputed on reload.
type Cursor struct {
	// Step is the name of the step that produced this checkpoint. Empty
	// on the initial checkpoint written when a session is created.
	Step string `json:"step"`

	// Status of the session as of this checkpoint.
	Status Status `json:"status"`

	// Payload holds the suspend payload when Status is StatusSuspended.
	Payload any `json:"payload,omitempty"`

	// Failure holds the step error text when Status is StatusFailed, and
	// also when Status is StatusRunning and the step was rerouted over its
	// failure edge. In the latter case the session's successor is the
	// failure target, not the step's normal route.
	Failure string `json:"failure,omitempty"`
}

// Checkpoint is one durable snapshot of a session.
type Checkpoint[S any] struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	State     S         `json:"state"`
	Cursor    Cursor    `json:"cursor"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists checkpoints keyed by session.
//
// Implementations must be safe for concurrent use across sessions. Within a
// session, Append enforces a strict sequence: the first checkpoint has Seq 1
// and every later one must carry exactly latest Seq + 1, otherwise Append
// returns ErrSequenceConflict and writes nothing.
type Store[S any] interface {
	// Append durably records cp. It must not return before the checkpoint
	// is persisted.
	Append(ctx context.Context, cp Checkpoint[S]) error

	// Latest returns the highest-sequence checkpoint for the session, or
	// ErrNotFound.
	Latest(ctx context.Context, sessionID string) (Checkpoint[S], error)

	// History returns all checkpoints for the session in sequence order.
	// An unknown session yields an empty slice, not an error.
	History(ctx context.Context, sessionID string) ([]Checkpoint[S], error)
}
