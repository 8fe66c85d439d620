// Package emit provides structured progress events for workflow execution
// and pluggable emitters to deliver them (slog, OpenTelemetry, or nothing).
package emit

import "time"

// Event kinds emitted by the engine.
const (
	MsgStepStarted    = "step.started"
	MsgStepCompleted  = "step.completed"
	MsgStepFailed     = "step.failed"
	MsgStepSuspended  = "step.suspended"
	MsgSessionResumed = "session.resumed"
	MsgRunCompleted   = "run.completed"
	MsgRunFailed      = "run.failed"
)

// Event describes one observable moment in a session's execution.
type Event struct {
	// SessionID identifies the session the event belongs to.
	SessionID string

	// Seq is the checkpoint sequence current when the event fired, 0 when
	// no checkpoint has been written yet.
	Seq int

	// Step is the step name, empty for run-level events.
	Step string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta carries event-specific details (durations, labels, errors).
	Meta map[string]any

	// Time is when the event occurred.
	Time time.Time
}

// Emitter receives execution events. Implementations must be safe for
// concurrent use and must not block the engine; expensive delivery belongs
// behind a buffer.
type Emitter interface {
	Emit(event Event)
}
