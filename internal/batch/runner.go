package batch

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/registry"
	"github.com/lockplane/stepplane/internal/resolver"
	"github.com/lockplane/stepplane/internal/upgrade"
)

// Outcome is what a step reports when it runs.
type Outcome struct {
	Messages []string
}

// Executor performs the actual work of one step. Returning an error wrapped
// with upgrade.Abort halts the whole run; any other error fails only the step.
type Executor interface {
	Invoke(ctx context.Context, step upgrade.StepID) (Outcome, error)
}

// Snapshotter supplies the component graph used to build the queue.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*registry.Snapshot, error)
}

// Config configures a Runner.
type Config struct {
	Store     progress.Store
	Executor  Executor
	Snapshots Snapshotter
	Logger    *slog.Logger

	// MaxSteps bounds the steps attempted per Advance call. Zero means no
	// bound.
	MaxSteps int
	// Budget bounds the wall time of one Advance call. A step that starts
	// within the budget always runs to completion. Zero means no bound.
	Budget time.Duration

	// OnProgress is called after every logged step.
	OnProgress func(result progress.StepResult, position, total int)
	// OnComplete is called once when a run reaches a terminal status.
	OnComplete func(state *progress.State)

	// Now and NewToken are overridable for tests.
	Now      func() time.Time
	NewToken func() string
}

// Runner executes queued steps one at a time, persisting after each, and can
// be resumed across many short invocations.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewToken == nil {
		cfg.NewToken = uuid.NewString
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Start resolves each set of starting points in order, queues the allowed
// steps and persists a new run. Steps queued by an earlier set count as
// applied when resolving later sets.
func (r *Runner) Start(ctx context.Context, sets []map[string]int) (*progress.State, error) {
	snap, err := r.cfg.Snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	state := progress.NewState(r.cfg.NewToken())
	queued := make(map[upgrade.StepID]bool)
	blocked := make(map[upgrade.StepID]progress.Blocked)
	earlier := newEarlierSets()

	for _, set := range sets {
		state.Sets = append(state.Sets, copyStart(set))
		classification := resolver.Resolve(overlay(snap, queued), set)
		deps := resolver.DependencyMap(classification)
		var added []progress.Operation
		for _, id := range resolver.Order(classification) {
			if queued[id] {
				continue
			}
			queued[id] = true
			op := progress.Operation{
				Step:         id,
				Dependencies: earlier.dependencies(id, classification[id].Dependencies, deps[id]),
			}
			added = append(added, op)
			state.Queue = append(state.Queue, op)
		}
		earlier.add(added)
		for _, n := range classification.Blocked() {
			blocked[n.Step] = progress.Blocked{
				Step:    n.Step,
				Cause:   string(n.Cause),
				Reason:  n.Reason,
				Missing: n.MissingDependencies,
			}
		}
	}

	for _, id := range sortedBlocked(blocked) {
		if !queued[id] {
			state.Blocked = append(state.Blocked, blocked[id])
		}
	}
	state.CreatedAt = r.cfg.Now().UTC()
	state.UpdatedAt = state.CreatedAt

	if err := r.cfg.Store.Save(ctx, state); err != nil {
		return nil, err
	}
	r.logger.Info("run started",
		slog.String("token", state.Token),
		slog.Int("queued", len(state.Queue)),
		slog.Int("blocked", len(state.Blocked)),
	)
	return state, nil
}

// Advance continues the run identified by token until the queue drains, the
// slice bound is reached, or the run aborts. It reports done once the run is
// terminal; advancing a finished run does nothing.
func (r *Runner) Advance(ctx context.Context, token string) (bool, error) {
	state, err := r.load(ctx, token)
	if err != nil {
		return false, err
	}
	if state.Done() {
		return true, nil
	}

	if state.InFlight != nil {
		// The previous invocation died inside a step. It may have partially
		// applied, so it is never re-run.
		r.abort(state, *state.InFlight, "the run was interrupted while this step was running")
		return true, r.finish(ctx, state)
	}

	state.Status = progress.StatusRunning
	started := r.cfg.Now()
	attempted := 0

	for state.Cursor < len(state.Queue) {
		if r.sliceExhausted(ctx, started, attempted) {
			state.Status = progress.StatusSuspended
			if err := r.save(ctx, state); err != nil {
				return false, err
			}
			r.logger.Debug("run suspended",
				slog.String("token", state.Token),
				slog.Int("cursor", state.Cursor),
				slog.Int("remaining", len(state.Remaining())),
			)
			return false, nil
		}

		op := state.Queue[state.Cursor]
		if failed, ok := failedDependency(state, op); ok {
			r.skip(state, op, failed)
			if err := r.save(ctx, state); err != nil {
				return false, err
			}
			r.notify(state)
			continue
		}

		step := op.Step
		state.InFlight = &step
		if err := r.save(ctx, state); err != nil {
			return false, err
		}

		r.logger.Info("running step", slog.String("step", step.String()))
		outcome, err := r.invoke(ctx, step)
		attempted++

		if upgrade.IsAbort(err) {
			state.Results = append(state.Results, progress.StepResult{
				Component: step.Component,
				Number:    step.Number,
				Messages:  outcome.Messages,
				Error:     err.Error(),
			})
			r.abort(state, step, err.Error())
			return true, r.finish(ctx, state)
		}

		result := progress.StepResult{
			Component: step.Component,
			Number:    step.Number,
			Messages:  outcome.Messages,
			Success:   err == nil,
		}
		if err != nil {
			result.Error = err.Error()
			state.Failed = append(state.Failed, step)
			r.logger.Error("step failed",
				slog.String("step", step.String()),
				slog.String("error", err.Error()),
			)
		} else {
			r.logger.Info("step completed", slog.String("step", step.String()))
		}
		state.Results = append(state.Results, result)
		state.InFlight = nil
		state.Cursor++
		if err := r.save(ctx, state); err != nil {
			return false, err
		}
		r.notify(state)
	}

	state.Status = progress.StatusCompleted
	success := len(state.Failed) == 0
	state.Success = &success
	return true, r.finish(ctx, state)
}

// Status returns the stored run after verifying the token.
func (r *Runner) Status(ctx context.Context, token string) (*progress.State, error) {
	return r.load(ctx, token)
}

// Results returns the run and, when clear is set, removes it from the store
// so a later visit does not report it again.
func (r *Runner) Results(ctx context.Context, token string, clear bool) (*progress.State, error) {
	state, err := r.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if clear {
		if err := r.cfg.Store.Clear(ctx, token); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Active lists the tokens of runs that have not been reported yet.
func (r *Runner) Active(ctx context.Context) ([]string, error) {
	return r.cfg.Store.Active(ctx)
}

func (r *Runner) load(ctx context.Context, token string) (*progress.State, error) {
	if token == "" {
		return nil, upgrade.NewError(upgrade.KindProtocol, nil, upgrade.ErrMissingToken)
	}
	if _, err := uuid.Parse(token); err != nil {
		return nil, upgrade.NewError(upgrade.KindProtocol, nil, fmt.Errorf("%w %q: %v", upgrade.ErrInvalidToken, token, err))
	}
	state, err := r.cfg.Store.Load(ctx, token)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, upgrade.NewError(upgrade.KindProtocol, nil, upgrade.ErrNoRun)
	}
	if subtle.ConstantTimeCompare([]byte(state.Token), []byte(token)) != 1 {
		return nil, upgrade.NewError(upgrade.KindProtocol, nil, upgrade.ErrTokenMismatch)
	}
	return state, nil
}

func (r *Runner) sliceExhausted(ctx context.Context, started time.Time, attempted int) bool {
	if ctx.Err() != nil {
		return true
	}
	if r.cfg.MaxSteps > 0 && attempted >= r.cfg.MaxSteps {
		return true
	}
	return r.cfg.Budget > 0 && attempted > 0 && r.cfg.Now().Sub(started) >= r.cfg.Budget
}

// invoke runs the step, turning a panic into an abort. Cancelling ctx stops
// the slice between steps, never inside one.
func (r *Runner) invoke(ctx context.Context, step upgrade.StepID) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = upgrade.Abort(fmt.Errorf("panic: %v", p))
		}
	}()
	return r.cfg.Executor.Invoke(context.WithoutCancel(ctx), step)
}

func (r *Runner) skip(state *progress.State, op progress.Operation, failed upgrade.StepID) {
	state.Results = append(state.Results, progress.StepResult{
		Component: op.Step.Component,
		Number:    op.Step.Number,
		Skipped:   true,
		Messages:  []string{fmt.Sprintf("%s was not run because %s failed", op.Step, failed)},
	})
	state.Failed = append(state.Failed, op.Step)
	state.Cursor++
	r.logger.Warn("step skipped",
		slog.String("step", op.Step.String()),
		slog.String("failed_dependency", failed.String()),
	)
}

func (r *Runner) abort(state *progress.State, step upgrade.StepID, message string) {
	state.Status = progress.StatusFailed
	state.InFlight = &step
	state.Abort = &progress.Abort{Step: step, Message: message}
	success := false
	state.Success = &success
	r.logger.Error("run aborted",
		slog.String("token", state.Token),
		slog.String("step", step.String()),
		slog.String("error", message),
	)
}

func (r *Runner) finish(ctx context.Context, state *progress.State) error {
	if err := r.save(ctx, state); err != nil {
		return err
	}
	r.logger.Info("run finished",
		slog.String("token", state.Token),
		slog.String("status", string(state.Status)),
		slog.Int("results", len(state.Results)),
	)
	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(state)
	}
	return nil
}

func (r *Runner) save(ctx context.Context, state *progress.State) error {
	state.UpdatedAt = r.cfg.Now().UTC()
	// Progress must persist even when the host cancelled ctx mid-slice.
	return r.cfg.Store.Save(context.WithoutCancel(ctx), state)
}

func (r *Runner) notify(state *progress.State) {
	if r.cfg.OnProgress == nil || len(state.Results) == 0 {
		return
	}
	r.cfg.OnProgress(state.Results[len(state.Results)-1], state.Cursor, len(state.Queue))
}

// failedDependency returns the first dependency of op that did not apply.
func failedDependency(state *progress.State, op progress.Operation) (upgrade.StepID, bool) {
	for _, d := range op.Dependencies {
		if state.HasFailed(d) {
			return d, true
		}
	}
	return upgrade.StepID{}, false
}
