package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/lockplane/stepplane/internal/upgrade"
)

// Source supplies component metadata. Component may fail for a single
// component without failing the whole query.
type Source interface {
	Names(ctx context.Context) ([]string, error)
	Component(ctx context.Context, name string) (*upgrade.Component, error)
}

// Pending describes the pending steps of one component.
type Pending struct {
	// Start is the component's applied baseline.
	Start   int   `json:"start"`
	Pending []int `json:"pending"`
	// Warning is set when the component is incompatible. Incompatible
	// components have no pending steps and are never resolved.
	Warning string `json:"warning,omitempty"`
}

// Incompatible reports whether discovery failed for the component.
func (p Pending) Incompatible() bool {
	return p.Warning != ""
}

// Snapshot is an immutable view of every known component.
type Snapshot struct {
	Components   map[string]*upgrade.Component
	Incompatible map[string]string
	Uninstalled  []string
}

// Registry discovers components and their pending steps.
type Registry struct {
	source Source
	logger *slog.Logger
}

// New creates a registry over source. A nil logger discards output.
func New(source Source, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{source: source, logger: logger}
}

// Snapshot reads every component once.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	names, err := r.source.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	sort.Strings(names)

	snap := &Snapshot{
		Components:   make(map[string]*upgrade.Component, len(names)),
		Incompatible: make(map[string]string),
	}
	for _, name := range names {
		comp, err := r.source.Component(ctx, name)
		if err != nil {
			r.logger.Warn("component discovery failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			snap.Incompatible[name] = fmt.Sprintf("%s component is incompatible: %v", name, err)
			continue
		}
		if warning := checkComponent(comp); warning != "" {
			snap.Incompatible[name] = warning
			continue
		}
		snap.Components[name] = comp
		if !comp.Installed() {
			snap.Uninstalled = append(snap.Uninstalled, name)
		}
	}
	return snap, nil
}

// ListPendingSteps reports, per installed component, the steps above its
// baseline. Incompatible components appear with a warning only.
func (r *Registry) ListPendingSteps(ctx context.Context) (map[string]Pending, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Pending(), nil
}

// Pending computes the pending list from the snapshot.
func (s *Snapshot) Pending() map[string]Pending {
	out := make(map[string]Pending, len(s.Components)+len(s.Incompatible))
	for name, warning := range s.Incompatible {
		out[name] = Pending{Start: upgrade.SchemaUninstalled, Warning: warning}
	}
	for name, comp := range s.Components {
		if !comp.Installed() {
			continue
		}
		p := Pending{Start: comp.CurrentVersion, Pending: []int{}}
		for _, n := range comp.Numbers() {
			if n > comp.CurrentVersion {
				p.Pending = append(p.Pending, n)
			}
		}
		out[name] = p
	}
	return out
}

// StartingPoints returns the baseline of every component with pending steps.
func StartingPoints(pending map[string]Pending) map[string]int {
	start := make(map[string]int)
	for name, p := range pending {
		if p.Incompatible() || len(p.Pending) == 0 {
			continue
		}
		start[name] = p.Start
	}
	return start
}

// PendingCount returns the number of pending steps across all components.
func PendingCount(pending map[string]Pending) int {
	count := 0
	for _, p := range pending {
		count += len(p.Pending)
	}
	return count
}

func checkComponent(comp *upgrade.Component) string {
	prev := 0
	for _, s := range comp.Steps {
		if s.ID.Number <= prev {
			return fmt.Sprintf("%s component is incompatible: step numbers must be strictly increasing (%d after %d)", comp.Name, s.ID.Number, prev)
		}
		prev = s.ID.Number
	}
	if comp.Installed() && comp.CurrentVersion < comp.LastRemoved {
		return fmt.Sprintf("%s component cannot be updated. Its schema version is %d. Updates up to and including %d have been removed in this release. In order to update %s, you will first need to upgrade to the last version in which these updates were available.",
			comp.Name, comp.CurrentVersion, comp.LastRemoved, comp.Name)
	}
	return ""
}
