// Package flow drives an upgrade through its phases.
package flow

import "fmt"

// Phase is a stage of an upgrade session.
type Phase int

const (
	PhaseDiscover Phase = iota
	PhaseResolve
	PhaseAwaitConfirmation
	PhaseRun
	PhaseReport
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseDiscover:
		return "discover"
	case PhaseResolve:
		return "resolve"
	case PhaseAwaitConfirmation:
		return "await-confirmation"
	case PhaseRun:
		return "run"
	case PhaseReport:
		return "report"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Event is the input that moves a session to its next phase.
type Event int

const (
	EventNone Event = iota
	EventBegin
	EventPending
	EventNothingPending
	EventAllowed
	EventNothingAllowed
	EventConfirmed
	EventDeclined
	EventSuspended
	EventYield
	EventFinished
	EventReported
)

func (e Event) String() string {
	names := [...]string{
		"none", "begin", "pending", "nothing-pending", "allowed", "nothing-allowed",
		"confirmed", "declined", "suspended", "yield", "finished", "reported",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Effect is work the orchestrator performs on entering a phase.
type Effect int

const (
	EffectDiscover Effect = iota
	EffectResolve
	EffectPrompt
	EffectStart
	EffectAdvance
	EffectYield
	EffectReport
	EffectIdle
)

type transition struct {
	next    Phase
	effects []Effect
}

type key struct {
	phase Phase
	event Event
}

var transitions = map[key]transition{
	{PhaseDiscover, EventBegin}:          {PhaseDiscover, []Effect{EffectDiscover}},
	{PhaseDiscover, EventPending}:        {PhaseResolve, []Effect{EffectResolve}},
	{PhaseDiscover, EventNothingPending}: {PhaseDone, []Effect{EffectIdle}},

	{PhaseResolve, EventAllowed}:        {PhaseAwaitConfirmation, []Effect{EffectPrompt}},
	{PhaseResolve, EventNothingAllowed}: {PhaseDone, []Effect{EffectIdle}},

	{PhaseAwaitConfirmation, EventConfirmed}: {PhaseRun, []Effect{EffectStart, EffectAdvance}},
	{PhaseAwaitConfirmation, EventDeclined}:  {PhaseDone, nil},

	{PhaseRun, EventBegin}:     {PhaseRun, []Effect{EffectAdvance}},
	{PhaseRun, EventSuspended}: {PhaseRun, []Effect{EffectAdvance}},
	{PhaseRun, EventYield}:     {PhaseDone, []Effect{EffectYield}},
	{PhaseRun, EventFinished}:  {PhaseReport, []Effect{EffectReport}},

	{PhaseReport, EventReported}: {PhaseDone, nil},
}

// Next returns the phase that follows phase on event and the effects to
// perform on entering it.
func Next(phase Phase, event Event) (Phase, []Effect, error) {
	t, ok := transitions[key{phase, event}]
	if !ok {
		return phase, nil, fmt.Errorf("no transition from %s on %s", phase, event)
	}
	return t.next, t.effects, nil
}
