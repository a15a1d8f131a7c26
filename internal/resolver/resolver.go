package resolver

import (
	"sort"

	"github.com/lockplane/stepplane/internal/registry"
	"github.com/lockplane/stepplane/internal/upgrade"
)

// Cause explains why a step is blocked.
type Cause string

const (
	CauseNone Cause = ""
	// CauseStructural: the step's own code or its component could not be
	// loaded. MissingDependencies is empty.
	CauseStructural Cause = "structural"
	// CauseDependency: a dependency is unsatisfiable or itself blocked.
	CauseDependency Cause = "dependency"
	// CauseCycle: the step depends on itself through other candidates.
	CauseCycle Cause = "cycle"
)

// Node is the resolver's verdict for one candidate step.
type Node struct {
	Step                upgrade.StepID   `json:"-"`
	Module              string           `json:"module"`
	Number              int              `json:"number"`
	Allowed             bool             `json:"allowed"`
	Cause               Cause            `json:"cause,omitempty"`
	Reason              string           `json:"reason,omitempty"`
	MissingDependencies []upgrade.StepID `json:"missing_dependencies"`
	// Dependencies holds the direct dependencies: declared ones plus the
	// previous candidate step of the same component.
	Dependencies []upgrade.StepID `json:"dependencies,omitempty"`
}

// Classification maps every candidate step to its node.
type Classification map[upgrade.StepID]*Node

// Blocked returns the blocked nodes ordered by step.
func (c Classification) Blocked() []*Node {
	var out []*Node
	for _, n := range c {
		if !n.Allowed {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step.Less(out[j].Step) })
	return out
}

// Steps returns every candidate step ordered by component then number.
func (c Classification) Steps() []upgrade.StepID {
	out := make([]upgrade.StepID, 0, len(c))
	for id := range c {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Resolve classifies every step above the given starting points as allowed
// or blocked. It never fails: problems are expressed as blocked nodes.
func Resolve(snap *registry.Snapshot, start map[string]int) Classification {
	g := &graph{
		snap:       snap,
		nodes:      make(Classification),
		dependents: make(map[upgrade.StepID][]upgrade.StepID),
	}
	g.collect(start)
	g.link()
	g.propagate()
	g.breakCycles()
	return g.nodes
}

type graph struct {
	snap       *registry.Snapshot
	nodes      Classification
	dependents map[upgrade.StepID][]upgrade.StepID
	worklist   []upgrade.StepID
}

func newNode(id upgrade.StepID) *Node {
	return &Node{
		Step:                id,
		Module:              id.Component,
		Number:              id.Number,
		Allowed:             true,
		MissingDependencies: []upgrade.StepID{},
	}
}

func sortedNames(start map[string]int) []string {
	names := make([]string, 0, len(start))
	for name := range start {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// collect builds the candidate set.
func (g *graph) collect(start map[string]int) {
	for _, name := range sortedNames(start) {
		from := start[name]
		comp, ok := g.snap.Components[name]
		if !ok {
			// Discovery failed, so the step numbers are unknown. Record the
			// first step the run would have attempted.
			id := upgrade.StepID{Component: name, Number: from + 1}
			n := newNode(id)
			n.Allowed = false
			n.Cause = CauseStructural
			n.Reason = g.snap.Incompatible[name]
			if n.Reason == "" {
				n.Reason = "component not found"
			}
			g.nodes[id] = n
			continue
		}
		for _, def := range comp.Steps {
			if def.Removed || def.ID.Number <= from {
				continue
			}
			n := newNode(def.ID)
			if def.Broken != nil {
				n.Allowed = false
				n.Cause = CauseStructural
				n.Reason = def.Broken.Error()
			}
			g.nodes[def.ID] = n
		}
	}
}

// link records direct dependencies and reverse edges, and blocks steps whose
// dependencies are outside the candidate set and not satisfied by history.
func (g *graph) link() {
	for _, id := range g.nodes.Steps() {
		n := g.nodes[id]
		if n.Cause == CauseStructural {
			g.worklist = append(g.worklist, id)
		}
		comp, ok := g.snap.Components[id.Component]
		if !ok {
			continue
		}
		def, _ := comp.Step(id.Number)

		deps := make([]upgrade.StepID, 0, len(def.Dependencies)+1)
		if prev, ok := g.previousCandidate(comp, id.Number); ok {
			deps = append(deps, prev)
		}
		for _, d := range def.Dependencies {
			if d != id && !containsStep(deps, d) {
				deps = append(deps, d)
			}
		}
		n.Dependencies = deps

		for _, d := range deps {
			if _, candidate := g.nodes[d]; candidate {
				g.dependents[d] = append(g.dependents[d], id)
				continue
			}
			if g.satisfied(d) || n.Cause == CauseStructural {
				continue
			}
			n.MissingDependencies = append(n.MissingDependencies, d)
			if n.Allowed {
				n.Allowed = false
				n.Cause = CauseDependency
				g.worklist = append(g.worklist, id)
			}
		}
	}
}

func (g *graph) previousCandidate(comp *upgrade.Component, number int) (upgrade.StepID, bool) {
	var prev upgrade.StepID
	found := false
	for _, s := range comp.Steps {
		if s.ID.Number >= number {
			break
		}
		if _, ok := g.nodes[s.ID]; ok {
			prev = s.ID
			found = true
		}
	}
	return prev, found
}

// satisfied reports whether a non-candidate dependency is already applied or
// was removed from history.
func (g *graph) satisfied(d upgrade.StepID) bool {
	comp, ok := g.snap.Components[d.Component]
	if !ok {
		return false
	}
	if d.Number <= comp.LastRemoved {
		return true
	}
	if def, ok := comp.Step(d.Number); ok && def.Removed {
		return true
	}
	return comp.Installed() && d.Number <= comp.CurrentVersion
}

// propagate drains the worklist: every dependent of a blocked step is
// blocked. Each step enters the worklist at most once, when it first flips
// to blocked, so the loop terminates.
func (g *graph) propagate() {
	for len(g.worklist) > 0 {
		id := g.worklist[0]
		g.worklist = g.worklist[1:]
		for _, dep := range g.dependents[id] {
			n := g.nodes[dep]
			if n.Cause == CauseStructural {
				continue
			}
			if !containsStep(n.MissingDependencies, id) {
				n.MissingDependencies = append(n.MissingDependencies, id)
			}
			if n.Allowed {
				n.Allowed = false
				n.Cause = CauseDependency
				g.worklist = append(g.worklist, dep)
			}
		}
	}
}

// breakCycles blocks allowed steps that can never become ready because they
// sit on, or behind, a dependency cycle.
func (g *graph) breakCycles() {
	_, stuck := topoOrder(g.nodes)
	if len(stuck) == 0 {
		return
	}
	inStuck := make(map[upgrade.StepID]bool, len(stuck))
	for _, id := range stuck {
		inStuck[id] = true
	}
	for _, id := range stuck {
		n := g.nodes[id]
		n.Allowed = false
		n.Cause = CauseCycle
		for _, d := range n.Dependencies {
			if inStuck[d] && !containsStep(n.MissingDependencies, d) {
				n.MissingDependencies = append(n.MissingDependencies, d)
			}
		}
	}
}

func containsStep(list []upgrade.StepID, id upgrade.StepID) bool {
	for _, s := range list {
		if s == id {
			return true
		}
	}
	return false
}
