package flow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lockplane/stepplane/internal/batch"
	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/registry"
	"github.com/lockplane/stepplane/internal/resolver"
	"github.com/lockplane/stepplane/internal/upgrade"
)

// Plan is what the session found before running anything.
type Plan struct {
	Pending        map[string]registry.Pending
	Start          map[string]int
	Classification resolver.Classification
	Order          []upgrade.StepID
}

// Hooks lets the host interact with a session.
type Hooks interface {
	// Confirm asks whether the allowed steps should run.
	Confirm(ctx context.Context, plan *Plan) (bool, error)
	// Idle is called when there is nothing to run.
	Idle(plan *Plan)
	// Suspended is called when the session stops before the run finishes.
	Suspended(state *progress.State)
	// Results receives the finished run.
	Results(state *progress.State) error
}

// Options configures an orchestrator.
type Options struct {
	Registry *registry.Registry
	Runner   *batch.Runner
	Hooks    Hooks
	Logger   *slog.Logger

	// Start overrides the starting points derived from pending steps.
	Start map[string]int
	// Follow keeps advancing until the run finishes instead of stopping
	// after one slice.
	Follow bool
	// Keep leaves the run in the store after reporting it.
	Keep bool
}

// Orchestrator performs the effects of each phase.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{opts: opts, logger: logger}
}

// session carries the values produced by earlier phases.
type session struct {
	snap  *registry.Snapshot
	plan  *Plan
	token string
	state *progress.State
}

// Run drives a new session from discovery to completion.
func (o *Orchestrator) Run(ctx context.Context) (*progress.State, error) {
	return o.drive(ctx, PhaseDiscover, &session{})
}

// Resume continues an existing run.
func (o *Orchestrator) Resume(ctx context.Context, token string) (*progress.State, error) {
	return o.drive(ctx, PhaseRun, &session{token: token})
}

func (o *Orchestrator) drive(ctx context.Context, phase Phase, s *session) (*progress.State, error) {
	event := EventBegin
	for {
		next, effects, err := Next(phase, event)
		if err != nil {
			return s.state, err
		}
		o.logger.Debug("phase transition",
			slog.String("from", phase.String()),
			slog.String("event", event.String()),
			slog.String("to", next.String()),
		)
		phase, event = next, EventNone
		for _, effect := range effects {
			ev, err := o.perform(ctx, s, effect)
			if err != nil {
				return s.state, err
			}
			if ev != EventNone {
				event = ev
			}
		}
		if phase == PhaseDone {
			return s.state, nil
		}
	}
}

func (o *Orchestrator) perform(ctx context.Context, s *session, effect Effect) (Event, error) {
	switch effect {
	case EffectDiscover:
		snap, err := o.opts.Registry.Snapshot(ctx)
		if err != nil {
			return EventNone, upgrade.NewError(upgrade.KindDiscovery, nil, err)
		}
		s.snap = snap
		pending := snap.Pending()
		start := o.opts.Start
		if start == nil {
			start = registry.StartingPoints(pending)
		}
		s.plan = &Plan{Pending: pending, Start: start}
		if len(start) == 0 || (o.opts.Start == nil && registry.PendingCount(pending) == 0) {
			return EventNothingPending, nil
		}
		return EventPending, nil

	case EffectResolve:
		s.plan.Classification = resolver.Resolve(s.snap, s.plan.Start)
		s.plan.Order = resolver.Order(s.plan.Classification)
		if len(s.plan.Order) == 0 {
			return EventNothingAllowed, nil
		}
		return EventAllowed, nil

	case EffectPrompt:
		ok, err := o.opts.Hooks.Confirm(ctx, s.plan)
		if err != nil {
			return EventNone, err
		}
		if !ok {
			return EventDeclined, nil
		}
		return EventConfirmed, nil

	case EffectStart:
		active, err := o.opts.Runner.Active(ctx)
		if err != nil {
			return EventNone, err
		}
		if len(active) > 0 {
			return EventNone, upgrade.NewError(upgrade.KindProtocol, nil,
				fmt.Errorf("a run is already in progress (token %s)", strings.Join(active, ", ")))
		}
		state, err := o.opts.Runner.Start(ctx, []map[string]int{s.plan.Start})
		if err != nil {
			return EventNone, err
		}
		s.token, s.state = state.Token, state
		return EventNone, nil

	case EffectAdvance:
		done, err := o.opts.Runner.Advance(ctx, s.token)
		if err != nil {
			return EventNone, err
		}
		state, err := o.opts.Runner.Status(ctx, s.token)
		if err != nil {
			return EventNone, err
		}
		s.state = state
		switch {
		case done:
			return EventFinished, nil
		case o.opts.Follow && ctx.Err() == nil:
			return EventSuspended, nil
		default:
			return EventYield, nil
		}

	case EffectYield:
		o.opts.Hooks.Suspended(s.state)
		return EventNone, nil

	case EffectReport:
		state, err := o.opts.Runner.Results(ctx, s.token, !o.opts.Keep)
		if err != nil {
			return EventNone, err
		}
		s.state = state
		if err := o.opts.Hooks.Results(state); err != nil {
			return EventNone, err
		}
		return EventReported, nil

	case EffectIdle:
		o.opts.Hooks.Idle(s.plan)
		return EventNone, nil
	}
	return EventNone, fmt.Errorf("unknown effect %d", effect)
}
