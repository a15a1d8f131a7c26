package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/upgrade"
)

type scriptedRunner struct {
	slices   int
	advances int
	state    *progress.State
	err      error
}

func (r *scriptedRunner) Advance(ctx context.Context, token string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	r.advances++
	r.state.Cursor = r.advances
	r.state.Results = append(r.state.Results, progress.StepResult{Component: "auth", Number: 3 + r.advances, Success: true})
	return r.advances >= r.slices, nil
}

func (r *scriptedRunner) Status(ctx context.Context, token string) (*progress.State, error) {
	copied := *r.state
	return &copied, nil
}

func newScripted(slices int) *scriptedRunner {
	state := progress.NewState("token")
	for n := 1; n <= slices; n++ {
		state.Queue = append(state.Queue, progress.Operation{Step: upgrade.StepID{Component: "auth", Number: 3 + n}})
	}
	return &scriptedRunner{slices: slices, state: state}
}

// run feeds the model the messages its commands would produce, skipping
// spinner ticks.
func run(t *testing.T, m Model) Model {
	t.Helper()
	cmd := m.advance()
	for i := 0; i < 20 && cmd != nil; i++ {
		msg := cmd()
		next, nextCmd := m.Update(msg)
		m = next.(Model)
		if _, ok := msg.(sliceMsg); !ok {
			return m
		}
		if m.done || m.err != nil || m.interrupted {
			return m
		}
		cmd = nextCmd
	}
	return m
}

func TestDriverAdvancesUntilDone(t *testing.T) {
	runner := newScripted(3)
	m := run(t, New(context.Background(), runner, "token"))

	if !m.Done() {
		t.Fatal("Expected the driver to finish the run")
	}
	if runner.advances != 3 {
		t.Errorf("Expected 3 advances, got %d", runner.advances)
	}
	view := m.View()
	if !strings.Contains(view, "3/3") || !strings.Contains(view, "auth#6") {
		t.Errorf("Unexpected view:\n%s", view)
	}
}

func TestDriverStopsOnError(t *testing.T) {
	runner := newScripted(3)
	runner.err = errors.New("token mismatch")
	m := run(t, New(context.Background(), runner, "token"))

	if m.Err() == nil || m.Done() {
		t.Errorf("Expected an error and no completion, got done=%v err=%v", m.Done(), m.Err())
	}
}

func TestDriverPause(t *testing.T) {
	runner := newScripted(3)
	m := New(context.Background(), runner, "token")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)
	if !m.Interrupted() {
		t.Error("Expected ctrl+c to pause the run")
	}
	if cmd == nil {
		t.Error("Expected a quit command")
	}
	if m.ctx.Err() == nil {
		t.Error("Expected the slice context to be cancelled")
	}
}
