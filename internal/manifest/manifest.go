// Package manifest loads component step declarations from TOML and YAML files.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/lockplane/stepplane/internal/database"
	"github.com/lockplane/stepplane/internal/upgrade"
)

//go:embed schema.json
var schemaJSON string

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// StepManifest declares one numbered step.
type StepManifest struct {
	Number      int      `toml:"number" yaml:"number" json:"number"`
	Description string   `toml:"description" yaml:"description" json:"description,omitempty"`
	SQL         []string `toml:"sql" yaml:"sql" json:"sql,omitempty"`
	DependsOn   []string `toml:"depends_on" yaml:"depends_on" json:"depends_on,omitempty"`
	Removed     bool     `toml:"removed" yaml:"removed" json:"removed,omitempty"`
	Fatal       bool     `toml:"fatal" yaml:"fatal" json:"fatal,omitempty"`
}

// Manifest declares a component and its steps.
type Manifest struct {
	Name        string           `toml:"name" yaml:"name" json:"name"`
	Description string           `toml:"description" yaml:"description" json:"description,omitempty"`
	LastRemoved int              `toml:"last_removed" yaml:"last_removed" json:"last_removed,omitempty"`
	Dialect     database.Dialect `toml:"dialect" yaml:"dialect" json:"dialect,omitempty"`
	Steps       []StepManifest   `toml:"steps" yaml:"steps" json:"steps,omitempty"`

	Path string `toml:"-" yaml:"-" json:"-"`
}

// IsManifestFile reports whether the path has a supported manifest extension.
func IsManifestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads and parses a manifest file.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// declaredName reads the component name from a manifest that may fail to
// load, falling back to the file stem.
func declaredName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return stem
	}
	var doc struct {
		Name string `toml:"name" yaml:"name"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil || !namePattern.MatchString(doc.Name) {
		return stem
	}
	return doc.Name
}

// Parse decodes manifest data. The format is chosen by the extension of
// name. The document is checked against the manifest JSON schema before it
// is decoded.
func Parse(name string, data []byte) (*Manifest, error) {
	var (
		doc map[string]interface{}
		m   Manifest
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: invalid TOML: %w", name, err)
		}
		if err := validateDocument(name, doc); err != nil {
			return nil, err
		}
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s: invalid TOML: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: invalid YAML: %w", name, err)
		}
		if err := validateDocument(name, doc); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s: invalid YAML: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported manifest format", name)
	}

	if err := m.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &m, nil
}

// validateDocument checks the raw document against the embedded schema.
func validateDocument(name string, doc map[string]interface{}) error {
	if doc == nil {
		doc = map[string]interface{}{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("%s: schema validation failed to run: %w", name, err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("%s: invalid manifest:\n  - %s", name, strings.Join(problems, "\n  - "))
}

// check enforces the rules the JSON schema cannot express.
func (m *Manifest) check() error {
	prev := 0
	for _, s := range m.Steps {
		if s.Number <= prev {
			return fmt.Errorf("step %d must be greater than step %d", s.Number, prev)
		}
		prev = s.Number
		if s.Number <= m.LastRemoved && !s.Removed {
			return fmt.Errorf("step %d is at or below last_removed %d", s.Number, m.LastRemoved)
		}
		for _, ref := range s.DependsOn {
			if _, err := upgrade.ParseStepID(ref); err != nil {
				return fmt.Errorf("step %d: %w", s.Number, err)
			}
		}
	}
	return nil
}

// Component converts the manifest into a component at the given baseline.
func (m *Manifest) Component(current int) *upgrade.Component {
	comp := &upgrade.Component{
		Name:           m.Name,
		CurrentVersion: current,
		LastRemoved:    m.LastRemoved,
	}
	for _, s := range m.Steps {
		comp.Steps = append(comp.Steps, m.stepDef(s))
	}
	return comp
}

// Step returns the step definition for number.
func (m *Manifest) Step(number int) (upgrade.StepDef, bool) {
	for _, s := range m.Steps {
		if s.Number == number {
			return m.stepDef(s), true
		}
	}
	return upgrade.StepDef{}, false
}

func (m *Manifest) stepDef(s StepManifest) upgrade.StepDef {
	def := upgrade.StepDef{
		ID:          upgrade.StepID{Component: m.Name, Number: s.Number},
		Description: s.Description,
		Statements:  s.SQL,
		Removed:     s.Removed,
		Fatal:       s.Fatal,
	}
	for _, ref := range s.DependsOn {
		// References were checked when the manifest was parsed.
		id, _ := upgrade.ParseStepID(ref)
		def.Dependencies = append(def.Dependencies, id)
	}
	if !s.Removed {
		def.Broken = checkStatements(m.Dialect, s.SQL)
	}
	return def
}
