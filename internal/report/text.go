// Package report renders pending steps, resolver classifications and run
// results for the terminal and as JSON.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/registry"
	"github.com/lockplane/stepplane/internal/resolver"
	"github.com/lockplane/stepplane/internal/upgrade"
)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinSteps(steps []upgrade.StepID) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

func joinNumbers(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// Pending renders the pending steps of every component. Uninstalled
// components are listed last.
func Pending(pending map[string]registry.Pending, uninstalled []string) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Pending updates"))
	b.WriteString("\n")

	total := 0
	for _, name := range sortedKeys(pending) {
		p := pending[name]
		switch {
		case p.Incompatible():
			fmt.Fprintf(&b, "  %s %s\n", warningStyle.Render(iconWarning+" "+name), p.Warning)
		case len(p.Pending) == 0:
			fmt.Fprintf(&b, "  %s %s\n", successStyle.Render(iconSuccess+" "+name), mutedStyle.Render(fmt.Sprintf("up to date at %d", p.Start)))
		default:
			total += len(p.Pending)
			fmt.Fprintf(&b, "  %s %s %s\n", iconPending, name,
				mutedStyle.Render(fmt.Sprintf("at %d, pending %s", p.Start, joinNumbers(p.Pending))))
		}
	}
	for _, name := range uninstalled {
		fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render("- "+name), mutedStyle.Render("not installed"))
	}

	if total == 0 {
		b.WriteString("\nNo pending updates.\n")
	} else {
		fmt.Fprintf(&b, "\n%d pending update(s).\n", total)
	}
	return b.String()
}

// Classification renders the resolver verdict: the run order followed by
// every blocked step and why.
func Classification(c resolver.Classification) string {
	var b strings.Builder
	order := resolver.Order(c)
	b.WriteString(headerStyle.Render("Steps to run"))
	b.WriteString("\n")
	if len(order) == 0 {
		b.WriteString(mutedStyle.Render("  (none)"))
		b.WriteString("\n")
	}
	for i, id := range order {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, id)
	}

	blocked := c.Blocked()
	if len(blocked) > 0 {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Blocked steps"))
		b.WriteString("\n")
		for _, n := range blocked {
			fmt.Fprintf(&b, "  %s %s: %s\n", errorStyle.Render(iconError), n.Step, BlockReason(n))
		}
	}
	return b.String()
}

// BlockReason explains why a node is blocked.
func BlockReason(n *resolver.Node) string {
	switch n.Cause {
	case resolver.CauseStructural:
		if n.Reason != "" {
			return n.Reason
		}
		return "the step could not be loaded"
	case resolver.CauseCycle:
		return "depends on itself through " + joinSteps(n.Dependencies)
	case resolver.CauseDependency:
		if len(n.MissingDependencies) > 0 {
			return "requires " + joinSteps(n.MissingDependencies) + ", which cannot be run"
		}
		return "a dependency is blocked"
	default:
		return ""
	}
}

// Results renders a finished or suspended run: every logged step grouped by
// component, steps that were never queued, the abort if any, and a summary.
func Results(state *progress.State) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Update results"))
	b.WriteString(mutedStyle.Render(" " + state.Token))
	b.WriteString("\n")

	byComponent := state.ResultsByComponent()
	succeeded, failed, skipped := 0, 0, 0
	for _, name := range state.Components() {
		results := byComponent[name]
		b.WriteString(componentStyle.Render(name))
		b.WriteString("\n")
		if len(results) == 0 {
			b.WriteString(mutedStyle.Render("  no steps were run"))
			b.WriteString("\n")
		}
		for _, r := range results {
			switch {
			case r.Skipped:
				skipped++
				fmt.Fprintf(&b, "  %s\n", warningStyle.Render(iconSkipped+" "+r.Step().String()+" skipped"))
			case r.Success:
				succeeded++
				fmt.Fprintf(&b, "  %s\n", successStyle.Render(iconSuccess+" "+r.Step().String()))
			default:
				failed++
				fmt.Fprintf(&b, "  %s\n", errorStyle.Render(iconError+" "+r.Step().String()+" failed"))
			}
			for _, m := range r.Messages {
				fmt.Fprintf(&b, "      %s\n", m)
			}
			if r.Error != "" {
				fmt.Fprintf(&b, "      %s\n", errorStyle.Render(r.Error))
			}
		}
	}

	if len(state.Blocked) > 0 {
		b.WriteString(componentStyle.Render("Not run"))
		b.WriteString("\n")
		for _, blk := range state.Blocked {
			reason := blk.Reason
			if len(blk.Missing) > 0 {
				reason = "requires " + joinSteps(blk.Missing)
			}
			if reason == "" {
				reason = blk.Cause
			}
			fmt.Fprintf(&b, "  %s %s: %s\n", mutedStyle.Render(iconPending), blk.Step, reason)
		}
	}

	if state.Abort != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Run aborted in %s: %s", state.Abort.Step, state.Abort.Message)))
		b.WriteString("\n")
	}

	remaining := len(state.Remaining())
	if state.Abort != nil && remaining > 0 {
		// The aborted step is still under the cursor.
		remaining--
	}
	summary := fmt.Sprintf("%d succeeded, %d failed, %d skipped", succeeded, failed, skipped)
	if remaining > 0 {
		summary += fmt.Sprintf(", %d not attempted", remaining)
	}
	switch {
	case state.Success == nil:
		summary = "In progress: " + summary
	case *state.Success:
		summary = successStyle.Render("All updates succeeded: ") + summary
	default:
		summary = errorStyle.Render("Updates finished with errors: ") + summary
	}
	b.WriteString(summaryStyle.Render(summary))
	b.WriteString("\n")
	return b.String()
}
