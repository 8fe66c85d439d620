package flow

import (
	"errors"
	"fmt"
)

// Protocol errors returned by Engine methods. They signal caller mistakes
// about session lifecycle, not step failures, and never mark the session
// failed.
var (
	// ErrSessionNotFound is returned by Resume and Inspect when no
	// checkpoint exists for the session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotSuspended is returned by Resume when the session's latest
	// checkpoint is not a suspension. A second Resume after a successful
	// one fails with this error.
	ErrNotSuspended = errors.New("session is not suspended")

	// ErrSessionSuspended is returned by Start when the session is
	// currently suspended; the caller should Resume instead.
	ErrSessionSuspended = errors.New("session is suspended, resume it instead")

	// ErrRunInProgress is returned by Start when the latest checkpoint
	// shows an unfinished run, which after a crash means the session
	// needs Recover rather than a fresh turn.
	ErrRunInProgress = errors.New("session has an unfinished run")

	// ErrNotRecoverable is returned by Recover when the session's latest
	// checkpoint does not belong to an interrupted run.
	ErrNotRecoverable = errors.New("session has no interrupted run to recover")

	// ErrMaxStepsExceeded is returned when a single run executes more
	// steps than Options.MaxSteps allows.
	ErrMaxStepsExceeded = errors.New("maximum step count exceeded")

	// ErrNotResumable is returned by Resume when the suspended step does
	// not implement ResumableStep.
	ErrNotResumable = errors.New("suspended step cannot fold a resume value")
)

// StepError wraps a failure produced while executing a named step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// BuildError reports a problem detected while compiling a graph.
type BuildError struct {
	Problems []string
}

func (e *BuildError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid graph: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid graph: %d problems, first: %s", len(e.Problems), e.Problems[0])
}
