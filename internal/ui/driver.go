// Package ui drives a run from an interactive terminal, advancing it slice
// by slice while showing progress.
package ui

import (
	"context"
	"fmt"
	"strings"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lockplane/stepplane/internal/progress"
)

// Advancer is the part of the runner the driver needs.
type Advancer interface {
	Advance(ctx context.Context, token string) (bool, error)
	Status(ctx context.Context, token string) (*progress.State, error)
}

const recentResults = 5

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// sliceMsg reports the end of one Advance call.
type sliceMsg struct {
	done  bool
	state *progress.State
	err   error
}

// Model is the Bubble Tea model of a running update.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	runner Advancer
	token  string

	spinner spinner.Model
	bar     progressbar.Model

	state       *progress.State
	done        bool
	interrupted bool
	err         error
}

// New creates a driver model for the run identified by token.
func New(ctx context.Context, runner Advancer, token string) Model {
	ctx, cancel := context.WithCancel(ctx)
	return Model{
		ctx:     ctx,
		cancel:  cancel,
		runner:  runner,
		token:   token,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		bar:     progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(40)),
	}
}

// Init starts the spinner and the first slice.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.advance())
}

func (m Model) advance() tea.Cmd {
	ctx, runner, token := m.ctx, m.runner, m.token
	return func() tea.Msg {
		done, err := runner.Advance(ctx, token)
		if err != nil {
			return sliceMsg{err: err}
		}
		state, err := runner.Status(context.WithoutCancel(ctx), token)
		return sliceMsg{done: done, state: state, err: err}
	}
}

// Update handles slice completions and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The current step finishes and the run is left suspended.
			m.interrupted = true
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		if w := msg.Width - 4; w > 10 && w < 80 {
			m.bar.Width = w
		}
		return m, nil

	case sliceMsg:
		if msg.state != nil {
			m.state = msg.state
		}
		if msg.err != nil {
			m.err = msg.err
			m.cancel()
			return m, tea.Quit
		}
		if msg.done || m.interrupted {
			m.done = msg.done
			m.cancel()
			return m, tea.Quit
		}
		return m, m.advance()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the progress bar and the most recent results.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Running updates"))
	b.WriteString("\n\n")

	done, total := 0, 0
	if m.state != nil {
		done, total = m.state.Cursor, len(m.state.Queue)
	}
	percent := 0.0
	if total > 0 {
		percent = float64(done) / float64(total)
	}
	if m.done {
		percent = 1
	}
	fmt.Fprintf(&b, "%s %s %d/%d\n", m.spinner.View(), m.bar.ViewAs(percent), done, total)

	if m.state != nil {
		results := m.state.Results
		if len(results) > recentResults {
			results = results[len(results)-recentResults:]
		}
		for _, r := range results {
			switch {
			case r.Skipped:
				b.WriteString(skipStyle.Render("  ↷ " + r.Step().String() + " skipped"))
			case r.Success:
				b.WriteString(okStyle.Render("  ✓ " + r.Step().String()))
			default:
				b.WriteString(failStyle.Render("  ✗ " + r.Step().String() + " failed"))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render("Press q to pause; resume later with the run token"))
	b.WriteString("\n")
	return b.String()
}

// Done reports whether the run reached a terminal status.
func (m Model) Done() bool { return m.done }

// Interrupted reports whether the user paused the run.
func (m Model) Interrupted() bool { return m.interrupted }

// Err returns the error that stopped the driver, if any.
func (m Model) Err() error { return m.err }

// State returns the last observed run state.
func (m Model) State() *progress.State { return m.state }

// Drive runs the terminal driver until the run finishes or the user pauses
// it, and reports whether the run finished.
func Drive(ctx context.Context, runner Advancer, token string) (bool, error) {
	final, err := tea.NewProgram(New(ctx, runner, token)).Run()
	if err != nil {
		return false, err
	}
	m := final.(Model)
	if m.err != nil {
		return false, m.err
	}
	return m.done, nil
}
