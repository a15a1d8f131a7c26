package progress

import (
	"sort"
	"time"

	"github.com/lockplane/stepplane/internal/upgrade"
)

// FormatVersion is the version of the persisted run format.
const FormatVersion = "1"

// Status is the runner state of a run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusSuspended  Status = "suspended"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Operation is one queued step with the earlier queued steps it depends on.
type Operation struct {
	Step         upgrade.StepID   `json:"step"`
	Dependencies []upgrade.StepID `json:"dependencies,omitempty"`
}

// StepResult is the log entry for one attempted or skipped step.
type StepResult struct {
	Component string   `json:"component"`
	Number    int      `json:"number"`
	Messages  []string `json:"messages,omitempty"`
	Success   bool     `json:"success"`
	// Skipped steps were queued but never attempted.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Step returns the result's step identity.
func (r StepResult) Step() upgrade.StepID {
	return upgrade.StepID{Component: r.Component, Number: r.Number}
}

// Blocked is a step the resolver refused to queue.
type Blocked struct {
	Step    upgrade.StepID   `json:"step"`
	Cause   string           `json:"cause"`
	Reason  string           `json:"reason,omitempty"`
	Missing []upgrade.StepID `json:"missing,omitempty"`
}

// Abort records the step a run was halted inside.
type Abort struct {
	Step    upgrade.StepID `json:"step"`
	Message string         `json:"message"`
}

// State is everything a run needs to resume: the queue, the cursor and the
// accumulated log. It is owned by the run identified by Token.
type State struct {
	Version  string           `json:"version"`
	Token    string           `json:"token"`
	Status   Status           `json:"status"`
	Sets     []map[string]int `json:"sets"`
	Queue    []Operation      `json:"queue"`
	Cursor   int              `json:"cursor"`
	InFlight *upgrade.StepID  `json:"in_flight,omitempty"`
	Results  []StepResult     `json:"results"`
	Blocked  []Blocked        `json:"blocked,omitempty"`
	Failed   []upgrade.StepID `json:"failed,omitempty"`
	// Success is nil until the run finishes.
	Success   *bool     `json:"success,omitempty"`
	Abort     *Abort    `json:"abort,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates an empty run for token.
func NewState(token string) *State {
	now := time.Now().UTC()
	return &State{
		Version:   FormatVersion,
		Token:     token,
		Status:    StatusNotStarted,
		Sets:      []map[string]int{},
		Queue:     []Operation{},
		Results:   []StepResult{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the run has reached a terminal status.
func (s *State) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Remaining returns the operations not yet attempted.
func (s *State) Remaining() []Operation {
	if s.Cursor >= len(s.Queue) {
		return nil
	}
	return s.Queue[s.Cursor:]
}

// HasFailed reports whether step failed or was skipped in this run.
func (s *State) HasFailed(step upgrade.StepID) bool {
	for _, f := range s.Failed {
		if f == step {
			return true
		}
	}
	return false
}

// ResultsByComponent groups the log by component, each in log order.
func (s *State) ResultsByComponent() map[string][]StepResult {
	out := make(map[string][]StepResult)
	for _, r := range s.Results {
		out[r.Component] = append(out[r.Component], r)
	}
	return out
}

// Components returns the components present in the log or queue, sorted.
func (s *State) Components() []string {
	seen := make(map[string]bool)
	for _, op := range s.Queue {
		seen[op.Step.Component] = true
	}
	for _, b := range s.Blocked {
		seen[b.Step.Component] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
