package upgrade

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaUninstalled is the baseline of a component whose schema has never
// been installed.
const SchemaUninstalled = -1

// StepID identifies one upgrade step: a component and a step number.
type StepID struct {
	Component string `json:"component"`
	Number    int    `json:"number"`
}

// String renders the step as component#number.
func (s StepID) String() string {
	return s.Component + "#" + strconv.Itoa(s.Number)
}

// Less orders steps by component name, then number.
func (s StepID) Less(o StepID) bool {
	if s.Component != o.Component {
		return s.Component < o.Component
	}
	return s.Number < o.Number
}

// ParseStepID parses a reference of the form "component#number".
func ParseStepID(ref string) (StepID, error) {
	ref = strings.TrimSpace(ref)
	idx := strings.LastIndex(ref, "#")
	if idx <= 0 || idx == len(ref)-1 {
		return StepID{}, fmt.Errorf("invalid step reference %q: expected component#number", ref)
	}
	n, err := strconv.Atoi(ref[idx+1:])
	if err != nil {
		return StepID{}, fmt.Errorf("invalid step reference %q: %w", ref, err)
	}
	if n <= 0 {
		return StepID{}, fmt.Errorf("invalid step reference %q: step numbers start at 1", ref)
	}
	return StepID{Component: ref[:idx], Number: n}, nil
}

// StepDef is the definition of a single step as declared by its component.
type StepDef struct {
	ID           StepID
	Description  string
	Statements   []string
	Dependencies []StepID
	// Removed marks a number that exists in history but whose step was
	// deleted. Dependencies on it are always satisfied.
	Removed bool
	// Fatal steps halt the whole run when they fail.
	Fatal bool
	// Broken is set when the step is declared but its body cannot be used.
	Broken error
}

// Component describes one independently versioned component as seen by the
// registry.
type Component struct {
	Name           string
	CurrentVersion int
	LastRemoved    int
	Steps          []StepDef
}

// Installed reports whether the component's schema has been installed.
func (c *Component) Installed() bool {
	return c.CurrentVersion != SchemaUninstalled
}

// Numbers returns the available, non-removed step numbers in ascending order.
func (c *Component) Numbers() []int {
	nums := make([]int, 0, len(c.Steps))
	for _, s := range c.Steps {
		if !s.Removed {
			nums = append(nums, s.ID.Number)
		}
	}
	return nums
}

// MaxNumber returns the highest declared step number, or 0.
func (c *Component) MaxNumber() int {
	max := 0
	for _, s := range c.Steps {
		if s.ID.Number > max {
			max = s.ID.Number
		}
	}
	return max
}

// Step returns the definition for number, if declared.
func (c *Component) Step(number int) (StepDef, bool) {
	for _, s := range c.Steps {
		if s.ID.Number == number {
			return s, true
		}
	}
	return StepDef{}, false
}
