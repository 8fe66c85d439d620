package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/nl2sql-go/flow/emit"
	"github.com/dshills/nl2sql-go/flow/store"
)

// OutcomeKind classifies how a run ended.
type OutcomeKind string

// Run outcomes.
const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeSuspended OutcomeKind = "suspended"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of Start, Resume, or Recover. Err is set only for
// OutcomeFailed and Payload only for OutcomeSuspended.
type Outcome struct {
	Kind    OutcomeKind
	State   State
	Payload any
	Err     error
}

// Snapshot is a read-only view of a session returned by Inspect.
type Snapshot struct {
	SessionID string
	Seq       int
	Status    store.Status
	State     State
	// PendingStep names the suspended step awaiting a resume value, empty
	// unless Status is StatusSuspended.
	PendingStep string
	Payload     any
	Failure     string
	UpdatedAt   time.Time
}

// Engine executes workflow sessions against a compiled graph.
//
// All session work is strictly sequential: a per-session lock serializes
// Start, Resume, and Recover so two calls for the same session can never
// interleave step execution, while distinct sessions proceed concurrently.
// Every completed step is checkpointed before the route to the next step is
// taken, so the engine can be discarded and rebuilt over the same store
// without losing more than an in-flight step.
type Engine struct {
	graph *Graph
	store store.Store[State]
	cfg   config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine over a compiled graph and a checkpoint store.
func New(g *Graph, st store.Store[State], opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("graph must not be nil")
	}
	if st == nil {
		return nil, errors.New("store must not be nil")
	}

	cfg := config{
		maxSteps: defaultMaxSteps,
		emitter:  emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{
		graph: g,
		store: st,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Start begins a new run for the session, merging initial into the
// session's state (empty for an unknown session) and executing from the
// entry step until the run completes, suspends, or fails.
//
// Start refuses a suspended session with ErrSessionSuspended and a session
// whose previous run was interrupted with ErrRunInProgress; the caller
// should Resume or Recover those instead.
func (e *Engine) Start(ctx context.Context, sessionID string, initial Delta) (Outcome, error) {
	if sessionID == "" {
		return Outcome{}, errors.New("session id must not be empty")
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state := State{Values: map[string]any{}}
	seq := 0

	latest, err := e.store.Latest(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// New session.
	case err != nil:
		return Outcome{}, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	default:
		switch latest.Cursor.Status {
		case store.StatusSuspended:
			return Outcome{}, fmt.Errorf("session %q: %w", sessionID, ErrSessionSuspended)
		case store.StatusRunning:
			return Outcome{}, fmt.Errorf("session %q: %w", sessionID, ErrRunInProgress)
		}
		state = latest.State
		seq = latest.Seq
	}

	state = Merge(state, initial)
	seq++
	if err := e.appendCheckpoint(ctx, sessionID, seq, state, store.Cursor{Status: store.StatusRunning}); err != nil {
		return Outcome{}, err
	}

	return e.runLoop(ctx, sessionID, state, seq, e.graph.Entry(), "")
}

// Resume delivers an external value to a suspended session. The suspended
// step's Resume fold converts the value into the step's completion delta;
// the step itself is not re-executed. Execution then continues from the
// routed successor.
//
// Resume fails with ErrSessionNotFound for an unknown session and with
// ErrNotSuspended when the session is not currently suspended, including
// when it was already resumed.
func (e *Engine) Resume(ctx context.Context, sessionID string, value any) (Outcome, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := e.store.Latest(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}
	if latest.Cursor.Status != store.StatusSuspended {
		return Outcome{}, fmt.Errorf("session %q: %w", sessionID, ErrNotSuspended)
	}

	stepName := latest.Cursor.Step
	step, ok := e.graph.steps[stepName]
	if !ok {
		return Outcome{}, fmt.Errorf("session %q suspended at unknown step %q", sessionID, stepName)
	}
	resumable, ok := step.(ResumableStep)
	if !ok {
		return Outcome{}, fmt.Errorf("step %q: %w", stepName, ErrNotResumable)
	}

	e.cfg.metrics.resumeRecorded()
	e.emit(sessionID, latest.Seq, stepName, emit.MsgSessionResumed, nil)

	snapshot, err := clone(latest.State)
	if err != nil {
		return Outcome{}, err
	}

	e.cfg.metrics.runStarted()
	defer e.cfg.metrics.runFinished()

	started := time.Now()
	result := e.withTimeout(ctx, stepName, func(stepCtx context.Context) StepResult {
		return resumable.Resume(stepCtx, snapshot, value)
	})
	state, seq, next, outcome, err := e.finishStep(ctx, sessionID, stepName, latest.State, latest.Seq, result, time.Since(started))
	if err != nil || outcome != nil {
		return deref(outcome), err
	}
	return e.continueLoop(ctx, sessionID, state, seq, next, stepName, 1)
}

// Recover continues a session whose latest checkpoint shows an interrupted
// run, typically after a process crash between a step's checkpoint and the
// next step. The route out of the checkpointed step is recomputed from the
// persisted state and execution resumes there; the interrupted in-flight
// step, if any, is re-executed by virtue of never having been checkpointed.
func (e *Engine) Recover(ctx context.Context, sessionID string) (Outcome, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := e.store.Latest(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}
	if latest.Cursor.Status != store.StatusRunning {
		return Outcome{}, fmt.Errorf("session %q (status %s): %w", sessionID, latest.Cursor.Status, ErrNotRecoverable)
	}

	next := e.graph.Entry()
	switch {
	case latest.Cursor.Step == "":
	case latest.Cursor.Failure != "":
		// The step failed and was rerouted over its failure edge; the
		// normal route out of it was never taken.
		target, ok := e.graph.failureTarget(latest.Cursor.Step)
		if !ok {
			return Outcome{}, fmt.Errorf("session %q: step %q has no failure edge: %w",
				sessionID, latest.Cursor.Step, ErrNotRecoverable)
		}
		next = target
	default:
		next = e.graph.next(latest.Cursor.Step, latest.State)
	}
	return e.runLoop(ctx, sessionID, latest.State, latest.Seq, next, latest.Cursor.Step)
}

// Inspect returns the session's current position and state without
// executing anything.
func (e *Engine) Inspect(ctx context.Context, sessionID string) (Snapshot, error) {
	latest, err := e.store.Latest(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}

	snap := Snapshot{
		SessionID: sessionID,
		Seq:       latest.Seq,
		Status:    latest.Cursor.Status,
		State:     latest.State,
		Failure:   latest.Cursor.Failure,
		UpdatedAt: latest.CreatedAt,
	}
	if latest.Cursor.Status == store.StatusSuspended {
		snap.PendingStep = latest.Cursor.Step
		snap.Payload = latest.Cursor.Payload
	}
	return snap, nil
}

// runLoop drives execution beginning at current. prev is the step whose
// checkpoint produced the current state, used only when current is already
// the terminal target.
func (e *Engine) runLoop(ctx context.Context, sessionID string, state State, seq int, current, prev string) (Outcome, error) {
	e.cfg.metrics.runStarted()
	defer e.cfg.metrics.runFinished()
	return e.continueLoop(ctx, sessionID, state, seq, current, prev, 0)
}

func (e *Engine) continueLoop(ctx context.Context, sessionID string, state State, seq int, current, prev string, executed int) (Outcome, error) {
	for {
		if current == End {
			seq++
			cursor := store.Cursor{Step: prev, Status: store.StatusDone}
			if err := e.appendCheckpoint(ctx, sessionID, seq, state, cursor); err != nil {
				return Outcome{}, err
			}
			e.emit(sessionID, seq, "", emit.MsgRunCompleted, nil)
			return Outcome{Kind: OutcomeCompleted, State: state}, nil
		}

		executed++
		if executed > e.cfg.maxSteps {
			stepErr := &StepError{Step: current, Err: ErrMaxStepsExceeded}
			seq++
			cursor := store.Cursor{Step: current, Status: store.StatusFailed, Failure: stepErr.Error()}
			if err := e.appendCheckpoint(ctx, sessionID, seq, state, cursor); err != nil {
				return Outcome{}, err
			}
			e.emit(sessionID, seq, current, emit.MsgRunFailed, map[string]any{"error": stepErr.Error()})
			return Outcome{Kind: OutcomeFailed, State: state, Err: stepErr}, nil
		}

		step := e.graph.steps[current]
		snapshot, err := clone(state)
		if err != nil {
			return Outcome{}, err
		}

		e.emit(sessionID, seq, current, emit.MsgStepStarted, nil)
		started := time.Now()
		result := e.withTimeout(ctx, current, func(stepCtx context.Context) StepResult {
			return step.Run(stepCtx, snapshot)
		})

		var outcome *Outcome
		state, seq, current, outcome, err = e.finishStep(ctx, sessionID, current, state, seq, result, time.Since(started))
		if err != nil {
			return Outcome{}, err
		}
		if outcome != nil {
			return *outcome, nil
		}
		prev = ""
	}
}

// finishStep merges a step result into the session, writes the checkpoint,
// and decides what happens next. It returns either a non-nil outcome
// (suspended or failed, ending the run) or the routed successor for the
// loop to continue with. The checkpoint is always written before the route
// is evaluated.
func (e *Engine) finishStep(
	ctx context.Context,
	sessionID, stepName string,
	state State,
	seq int,
	result StepResult,
	elapsed time.Duration,
) (State, int, string, *Outcome, error) {
	switch {
	case result.Err != nil:
		stepErr := &StepError{Step: stepName, Err: result.Err}
		e.cfg.metrics.observeStep(stepName, "failed", elapsed)
		e.emit(sessionID, seq, stepName, emit.MsgStepFailed, map[string]any{"error": result.Err.Error()})

		if target, ok := e.graph.failureTarget(stepName); ok {
			state = Merge(state, Delta{Values: map[string]any{"last_error": result.Err.Error()}})
			seq++
			// Failure stays set on a running cursor so Recover knows the
			// successor is the failure target, not the normal route.
			cursor := store.Cursor{Step: stepName, Status: store.StatusRunning, Failure: stepErr.Error()}
			if err := e.appendCheckpoint(ctx, sessionID, seq, state, cursor); err != nil {
				return state, seq, "", nil, err
			}
			return state, seq, target, nil, nil
		}

		seq++
		cursor := store.Cursor{Step: stepName, Status: store.StatusFailed, Failure: stepErr.Error()}
		if err := e.appendCheckpoint(ctx, sessionID, seq, state, cursor); err != nil {
			return state, seq, "", nil, err
		}
		e.emit(sessionID, seq, stepName, emit.MsgRunFailed, map[string]any{"error": stepErr.Error()})
		return state, seq, "", &Outcome{Kind: OutcomeFailed, State: state, Err: stepErr}, nil

	case result.Suspend != nil:
		state = Merge(state, result.Delta)
		seq++
		cursor := store.Cursor{Step: stepName, Status: store.StatusSuspended, Payload: result.Suspend.Value}
		if err := e.appendCheckpoint(ctx, sessionID, seq, state, cursor); err != nil {
			return state, seq, "", nil, err
		}
		e.cfg.metrics.observeStep(stepName, "suspended", elapsed)
		e.cfg.metrics.suspendRecorded()
		e.emit(sessionID, seq, stepName, emit.MsgStepSuspended, nil)
		return state, seq, "", &Outcome{Kind: OutcomeSuspended, State: state, Payload: result.Suspend.Value}, nil

	default:
		state = Merge(state, result.Delta)
		seq++
		cursor := store.Cursor{Step: stepName, Status: store.StatusRunning}
		if err := e.appendCheckpoint(ctx, sessionID, seq, state, cursor); err != nil {
			return state, seq, "", nil, err
		}
		e.cfg.metrics.observeStep(stepName, "completed", elapsed)
		e.emit(sessionID, seq, stepName, emit.MsgStepCompleted, nil)
		return state, seq, e.graph.next(stepName, state), nil, nil
	}
}

// withTimeout runs fn under the step's timeout, or the engine default when
// the step declares none. Steps are expected to honor context cancellation;
// a result produced after the deadline is converted into a timeout failure.
func (e *Engine) withTimeout(ctx context.Context, stepName string, fn func(context.Context) StepResult) StepResult {
	timeout := e.graph.policy(stepName).Timeout
	if timeout == 0 {
		timeout = e.cfg.defaultTimeout
	}
	if timeout <= 0 {
		return fn(ctx)
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := fn(stepCtx)
	if result.Err == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		result = Fail(fmt.Errorf("step timed out after %s: %w", timeout, context.DeadlineExceeded))
	}
	return result
}

func (e *Engine) appendCheckpoint(ctx context.Context, sessionID string, seq int, state State, cursor store.Cursor) error {
	cp := store.Checkpoint[State]{
		SessionID: sessionID,
		Seq:       seq,
		State:     state,
		Cursor:    cursor,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Append(ctx, cp); err != nil {
		return fmt.Errorf("failed to checkpoint session %q at seq %d: %w", sessionID, seq, err)
	}
	return nil
}

func (e *Engine) emit(sessionID string, seq int, step, msg string, meta map[string]any) {
	e.cfg.emitter.Emit(emit.Event{
		SessionID: sessionID,
		Seq:       seq,
		Step:      step,
		Msg:       msg,
		Meta:      meta,
		Time:      time.Now(),
	})
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

func deref(o *Outcome) Outcome {
	if o == nil {
		return Outcome{}
	}
	return *o
}
