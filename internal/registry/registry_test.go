package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lockplane/stepplane/internal/upgrade"
)

type fakeSource struct {
	components map[string]*upgrade.Component
	failures   map[string]error
}

func (f *fakeSource) Names(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.components {
		names = append(names, name)
	}
	for name := range f.failures {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeSource) Component(ctx context.Context, name string) (*upgrade.Component, error) {
	if err, ok := f.failures[name]; ok {
		return nil, err
	}
	return f.components[name], nil
}

func component(name string, current int, numbers ...int) *upgrade.Component {
	c := &upgrade.Component{Name: name, CurrentVersion: current}
	for _, n := range numbers {
		c.Steps = append(c.Steps, upgrade.StepDef{ID: upgrade.StepID{Component: name, Number: n}})
	}
	return c
}

func TestListPendingSteps(t *testing.T) {
	src := &fakeSource{
		components: map[string]*upgrade.Component{
			"auth":    component("auth", 3, 1, 2, 3, 4, 5),
			"billing": component("billing", 1, 1, 2, 3),
			"search":  component("search", upgrade.SchemaUninstalled, 1, 2),
		},
		failures: map[string]error{
			"broken": errors.New("manifest unreadable"),
		},
	}

	pending, err := New(src, nil).ListPendingSteps(context.Background())
	if err != nil {
		t.Fatalf("ListPendingSteps failed: %v", err)
	}

	auth := pending["auth"]
	if auth.Start != 3 || len(auth.Pending) != 2 || auth.Pending[0] != 4 || auth.Pending[1] != 5 {
		t.Errorf("Unexpected auth pending: %+v", auth)
	}

	billing := pending["billing"]
	if billing.Start != 1 || len(billing.Pending) != 2 || billing.Pending[0] != 2 {
		t.Errorf("Unexpected billing pending: %+v", billing)
	}

	if _, ok := pending["search"]; ok {
		t.Error("Expected uninstalled component to be excluded")
	}

	broken, ok := pending["broken"]
	if !ok || !broken.Incompatible() {
		t.Fatalf("Expected broken component to be reported incompatible, got %+v", broken)
	}
	if len(broken.Pending) != 0 {
		t.Errorf("Expected no pending steps for incompatible component, got %v", broken.Pending)
	}
	if !strings.Contains(broken.Warning, "manifest unreadable") {
		t.Errorf("Expected warning to carry cause, got %q", broken.Warning)
	}

	start := StartingPoints(pending)
	if len(start) != 2 || start["auth"] != 3 || start["billing"] != 1 {
		t.Errorf("Unexpected starting points: %v", start)
	}
	if PendingCount(pending) != 4 {
		t.Errorf("Expected 4 pending steps, got %d", PendingCount(pending))
	}
}

func TestListPendingStepsUpToDate(t *testing.T) {
	src := &fakeSource{
		components: map[string]*upgrade.Component{
			"auth":    component("auth", 5, 1, 2, 3, 4, 5),
			"billing": component("billing", 3, 2, 3),
		},
	}

	pending, err := New(src, nil).ListPendingSteps(context.Background())
	if err != nil {
		t.Fatalf("ListPendingSteps failed: %v", err)
	}
	for name, p := range pending {
		if len(p.Pending) != 0 {
			t.Errorf("Expected nothing pending for %s, got %v", name, p.Pending)
		}
	}
	if len(StartingPoints(pending)) != 0 {
		t.Error("Expected no starting points for an up-to-date installation")
	}
}

func TestSnapshotIncompatibleComponents(t *testing.T) {
	removed := component("legacy", 2, 5, 6)
	removed.LastRemoved = 4

	unordered := component("unordered", 0, 2, 1)

	src := &fakeSource{
		components: map[string]*upgrade.Component{
			"legacy":    removed,
			"unordered": unordered,
		},
	}

	snap, err := New(src, nil).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Components) != 0 {
		t.Errorf("Expected no usable components, got %d", len(snap.Components))
	}
	if !strings.Contains(snap.Incompatible["legacy"], "Updates up to and including 4 have been removed") {
		t.Errorf("Unexpected legacy warning: %q", snap.Incompatible["legacy"])
	}
	if !strings.Contains(snap.Incompatible["unordered"], "strictly increasing") {
		t.Errorf("Unexpected unordered warning: %q", snap.Incompatible["unordered"])
	}
}

func TestSnapshotNamesFailure(t *testing.T) {
	_, err := New(failingNames{}, nil).Snapshot(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to list components") {
		t.Errorf("Expected list failure, got %v", err)
	}
}

type failingNames struct{}

func (failingNames) Names(ctx context.Context) ([]string, error) {
	return nil, errors.New("directory missing")
}

func (failingNames) Component(ctx context.Context, name string) (*upgrade.Component, error) {
	return nil, nil
}
