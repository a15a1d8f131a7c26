package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lockplane/stepplane/internal/database"
	"github.com/lockplane/stepplane/internal/upgrade"
)

// Catalog holds the manifests found in a components directory, and the
// load error of every component whose manifest could not be used.
type Catalog struct {
	manifests map[string]*Manifest
	failures  map[string]error
}

// NewCatalog builds a catalog from already parsed manifests.
func NewCatalog(manifests ...*Manifest) (*Catalog, error) {
	c := &Catalog{
		manifests: make(map[string]*Manifest),
		failures:  make(map[string]error),
	}
	for _, m := range manifests {
		if prev, ok := c.manifests[m.Name]; ok {
			return nil, fmt.Errorf("component %q is declared in both %s and %s", m.Name, prev.Path, m.Path)
		}
		c.manifests[m.Name] = m
	}
	return c, nil
}

// LoadDir loads every manifest file directly inside dir. A file that cannot
// be read or parsed only fails its own component: the error is kept under
// the name it declares, or its file stem when no name can be read.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read components directory: %w", err)
	}
	c := &Catalog{
		manifests: make(map[string]*Manifest),
		failures:  make(map[string]error),
	}
	for _, entry := range entries {
		if entry.IsDir() || !IsManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, err := LoadFile(path)
		if err != nil {
			c.fail(declaredName(path), err)
			continue
		}
		if prev, ok := c.manifests[m.Name]; ok {
			c.fail(m.Name, fmt.Errorf("component %q is declared in both %s and %s", m.Name, prev.Path, m.Path))
			continue
		}
		if _, failed := c.failures[m.Name]; failed {
			continue
		}
		c.manifests[m.Name] = m
	}
	return c, nil
}

// fail marks a component unusable and drops any manifest loaded for it.
func (c *Catalog) fail(name string, err error) {
	delete(c.manifests, name)
	if _, ok := c.failures[name]; !ok {
		c.failures[name] = err
	}
}

// Failures returns the components whose manifests could not be loaded.
func (c *Catalog) Failures() map[string]error {
	return c.failures
}

// Failed returns the load error of a component, if any.
func (c *Catalog) Failed(name string) error {
	return c.failures[name]
}

// Names returns the component names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.manifests))
	for name := range c.manifests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the manifest for a component.
func (c *Catalog) Get(name string) (*Manifest, bool) {
	m, ok := c.manifests[name]
	return m, ok
}

// Step returns the definition of a declared step.
func (c *Catalog) Step(id upgrade.StepID) (upgrade.StepDef, bool) {
	m, ok := c.manifests[id.Component]
	if !ok {
		return upgrade.StepDef{}, false
	}
	return m.Step(id.Number)
}

// Lint reports manifests that failed to load, then problems that do not stop
// a manifest from loading but would block or confuse a run.
func (c *Catalog) Lint() []string {
	var warnings []string
	failed := make([]string, 0, len(c.failures))
	for name := range c.failures {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		warnings = append(warnings, fmt.Sprintf("%s: %v", name, c.failures[name]))
	}
	for _, name := range c.Names() {
		m := c.manifests[name]
		seen := make(map[string]int)
		for _, s := range m.Steps {
			def := m.stepDef(s)
			if def.Broken != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", def.ID, def.Broken))
			}
			for _, dep := range def.Dependencies {
				if msg := c.checkReference(dep); msg != "" {
					warnings = append(warnings, fmt.Sprintf("%s: %s", def.ID, msg))
				}
			}
			if m.Dialect != database.DialectPostgres || s.Removed {
				continue
			}
			for _, stmt := range s.SQL {
				fp, err := Fingerprint(stmt)
				if err != nil {
					continue
				}
				if prev, ok := seen[fp]; ok {
					warnings = append(warnings, fmt.Sprintf("%s: repeats a statement from %s#%d", def.ID, name, prev))
					continue
				}
				seen[fp] = s.Number
			}
		}
	}
	return warnings
}

func (c *Catalog) checkReference(dep upgrade.StepID) string {
	m, ok := c.manifests[dep.Component]
	if _, failed := c.failures[dep.Component]; failed {
		return fmt.Sprintf("depends on %s but component %q failed to load", dep, dep.Component)
	}
	if !ok {
		return fmt.Sprintf("depends on %s but component %q is not declared", dep, dep.Component)
	}
	if dep.Number <= m.LastRemoved {
		return ""
	}
	if _, ok := m.Step(dep.Number); !ok {
		return fmt.Sprintf("depends on %s which is not declared", dep)
	}
	return ""
}
