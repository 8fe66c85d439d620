package flow

import (
	"context"
	"time"
)

// Step is a unit of work in a workflow graph.
//
// Run receives a deep-copied snapshot of the session state; mutating the
// snapshot has no effect on the session. The returned StepResult carries the
// step's delta, an optional suspend request, or an error. Steps must honor
// context cancellation on any blocking work.
type Step interface {
	Run(ctx context.Context, state State) StepResult
}

// StepFunc adapts a plain function to the Step interface.
type StepFunc func(ctx context.Context, state State) StepResult

// Run implements Step.
func (f StepFunc) Run(ctx context.Context, state State) StepResult {
	return f(ctx, state)
}

// ResumableStep is implemented by steps that suspend. When the session is
// resumed, the engine calls Resume with the externally supplied value instead
// of re-running the step; the returned result completes the step exactly as
// if Run had produced it.
type ResumableStep interface {
	Step
	Resume(ctx context.Context, state State, value any) StepResult
}

// StepResult is the outcome of running (or resuming) a step.
//
// Exactly one mode applies: Err set means the step failed; Suspend set means
// the session pauses after Delta is merged and checkpointed; otherwise the
// step completed normally with Delta.
type StepResult struct {
	Delta   Delta
	Suspend *SuspendPayload
	Err     error
}

// SuspendPayload is the value a suspending step surfaces to the caller, for
// example a confirmation question. It is persisted with the checkpoint and
// must be JSON-serializable.
type SuspendPayload struct {
	Value any `json:"value"`
}

// Complete returns a result that finishes the step with the given delta.
func Complete(delta Delta) StepResult {
	return StepResult{Delta: delta}
}

// Suspend returns a result that merges delta, then pauses the session and
// surfaces value to the caller.
func Suspend(delta Delta, value any) StepResult {
	return StepResult{Delta: delta, Suspend: &SuspendPayload{Value: value}}
}

// Fail returns a result that marks the step as failed.
func Fail(err error) StepResult {
	return StepResult{Err: err}
}

// StepPolicy holds per-step execution settings.
type StepPolicy struct {
	// Timeout bounds a single execution of the step. Zero means use the
	// engine default; a default of zero means no timeout.
	Timeout time.Duration
}
