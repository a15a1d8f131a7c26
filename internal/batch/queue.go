package batch

import (
	"sort"

	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/registry"
	"github.com/lockplane/stepplane/internal/upgrade"
)

// overlay returns a copy of snap in which every queued step counts as
// applied, so later sets may depend on steps queued by earlier ones.
func overlay(snap *registry.Snapshot, queued map[upgrade.StepID]bool) *registry.Snapshot {
	if len(queued) == 0 {
		return snap
	}
	highest := make(map[string]int)
	for id := range queued {
		if id.Number > highest[id.Component] {
			highest[id.Component] = id.Number
		}
	}

	out := &registry.Snapshot{
		Components:   make(map[string]*upgrade.Component, len(snap.Components)),
		Incompatible: snap.Incompatible,
		Uninstalled:  snap.Uninstalled,
	}
	for name, comp := range snap.Components {
		if n, ok := highest[name]; ok && n > comp.CurrentVersion {
			c := *comp
			c.CurrentVersion = n
			out.Components[name] = &c
			continue
		}
		out.Components[name] = comp
	}
	return out
}

// earlierSets remembers the steps queued by previous sets. Resolving a later
// set treats them as applied, so edges to them have to be restored here for
// failures to skip their dependents.
type earlierSets struct {
	deps   map[upgrade.StepID][]upgrade.StepID
	latest map[string]upgrade.StepID
}

func newEarlierSets() *earlierSets {
	return &earlierSets{
		deps:   make(map[upgrade.StepID][]upgrade.StepID),
		latest: make(map[string]upgrade.StepID),
	}
}

func (e *earlierSets) add(ops []progress.Operation) {
	for _, op := range ops {
		e.deps[op.Step] = op.Dependencies
		if op.Step.Number > e.latest[op.Step.Component].Number {
			e.latest[op.Step.Component] = op.Step
		}
	}
}

// dependencies extends the in-set dependencies of id with the earlier
// queued steps it depends on directly, the highest earlier step of its own
// component, and everything those depend on.
func (e *earlierSets) dependencies(id upgrade.StepID, direct, inSet []upgrade.StepID) []upgrade.StepID {
	var roots []upgrade.StepID
	for _, d := range direct {
		if _, ok := e.deps[d]; ok {
			roots = append(roots, d)
		}
	}
	if prev, ok := e.latest[id.Component]; ok && prev.Number < id.Number {
		roots = append(roots, prev)
	}
	if len(roots) == 0 {
		return inSet
	}

	seen := make(map[upgrade.StepID]bool, len(inSet))
	out := make([]upgrade.StepID, 0, len(inSet)+len(roots))
	push := func(d upgrade.StepID) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, d := range inSet {
		push(d)
	}
	for _, root := range roots {
		push(root)
		for _, d := range e.deps[root] {
			push(d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func copyStart(set map[string]int) map[string]int {
	out := make(map[string]int, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func sortedBlocked(blocked map[upgrade.StepID]progress.Blocked) []upgrade.StepID {
	ids := make([]upgrade.StepID, 0, len(blocked))
	for id := range blocked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
