package manifest

import (
	"context"
	"fmt"
	"sort"

	"github.com/lockplane/stepplane/internal/upgrade"
)

// Versions reads applied component baselines.
type Versions interface {
	Versions(ctx context.Context) (map[string]int, error)
	Version(ctx context.Context, component string) (int, error)
}

// Source serves components from a catalog at the baselines recorded in the
// database.
type Source struct {
	catalog  *Catalog
	versions Versions
}

// NewSource combines a catalog with a version reader.
func NewSource(catalog *Catalog, versions Versions) *Source {
	return &Source{catalog: catalog, versions: versions}
}

// Names lists every declared component, every component whose manifest
// failed to load, and any component that has a recorded baseline but no
// manifest.
func (s *Source) Names(ctx context.Context) ([]string, error) {
	recorded, err := s.versions.Versions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	names := s.catalog.Names()
	for name := range s.catalog.Failures() {
		names = append(names, name)
	}
	for _, name := range names {
		seen[name] = true
	}
	for name := range recorded {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Component returns a component at its recorded baseline.
func (s *Source) Component(ctx context.Context, name string) (*upgrade.Component, error) {
	if err := s.catalog.Failed(name); err != nil {
		return nil, err
	}
	m, ok := s.catalog.Get(name)
	if !ok {
		return nil, fmt.Errorf("no manifest declares component %q", name)
	}
	current, err := s.versions.Version(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.Component(current), nil
}

// Step returns a declared step definition.
func (s *Source) Step(id upgrade.StepID) (upgrade.StepDef, bool) {
	return s.catalog.Step(id)
}
