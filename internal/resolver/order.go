package resolver

import (
	"sort"

	"github.com/lockplane/stepplane/internal/upgrade"
)

// Order returns the allowed steps in an order that runs every step after its
// dependencies. Ties are broken by component name, then number, so the same
// classification always yields the same order.
func Order(c Classification) []upgrade.StepID {
	order, _ := topoOrder(c)
	return order
}

// topoOrder runs Kahn's algorithm over the allowed steps. Steps that never
// become ready are returned as stuck.
func topoOrder(c Classification) (order, stuck []upgrade.StepID) {
	indegree := make(map[upgrade.StepID]int)
	dependents := make(map[upgrade.StepID][]upgrade.StepID)
	for id, n := range c {
		if !n.Allowed {
			continue
		}
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, d := range n.Dependencies {
			dn, ok := c[d]
			if !ok || !dn.Allowed {
				continue
			}
			indegree[id]++
			dependents[d] = append(dependents[d], id)
		}
	}

	var ready []upgrade.StepID
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortSteps(ready)

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
		delete(indegree, id)
	}

	for id := range indegree {
		stuck = append(stuck, id)
	}
	sortSteps(stuck)
	return order, stuck
}

// DependencyMap returns, for every allowed step, the candidate steps it
// depends on directly or transitively.
func DependencyMap(c Classification) map[upgrade.StepID][]upgrade.StepID {
	memo := make(map[upgrade.StepID]map[upgrade.StepID]bool)
	var visit func(id upgrade.StepID) map[upgrade.StepID]bool
	visit = func(id upgrade.StepID) map[upgrade.StepID]bool {
		if set, ok := memo[id]; ok {
			return set
		}
		set := make(map[upgrade.StepID]bool)
		memo[id] = set
		n, ok := c[id]
		if !ok {
			return set
		}
		for _, d := range n.Dependencies {
			if _, candidate := c[d]; !candidate {
				continue
			}
			set[d] = true
			for dd := range visit(d) {
				set[dd] = true
			}
		}
		return set
	}

	out := make(map[upgrade.StepID][]upgrade.StepID)
	for id, n := range c {
		if !n.Allowed {
			continue
		}
		deps := make([]upgrade.StepID, 0)
		for d := range visit(id) {
			deps = append(deps, d)
		}
		sortSteps(deps)
		out[id] = deps
	}
	return out
}

func sortSteps(steps []upgrade.StepID) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Less(steps[j]) })
}

func insertSorted(steps []upgrade.StepID, id upgrade.StepID) []upgrade.StepID {
	i := sort.Search(len(steps), func(i int) bool { return id.Less(steps[i]) })
	steps = append(steps, upgrade.StepID{})
	copy(steps[i+1:], steps[i:])
	steps[i] = id
	return steps
}
