package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lockplane/stepplane/internal/registry"
	"github.com/lockplane/stepplane/internal/report"
	"github.com/lockplane/stepplane/internal/resolver"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which pending updates can run and why others are blocked",
	Long: `Resolve the pending updates of every component and show the order
they would run in. Steps that cannot run are listed with the reason:
a step that failed to load, a dependency that cannot be satisfied, or a
dependency cycle.

By default every component starts from its applied version. Use --start
to resolve from other versions without touching the database.`,
	Example: `  # Show the plan for all pending updates
  stepplane plan

  # Resolve as if billing were at version 1, as JSON
  stepplane plan --start billing=1 --json`,
	Run: runPlan,
}

var (
	planJSON  bool
	planStart []string
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output the classification as JSON")
	planCmd.Flags().StringArrayVar(&planStart, "start", nil, "Starting point as component=version (repeatable)")
}

func runPlan(cmd *cobra.Command, args []string) {
	start, err := parseStartPoints(planStart)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	ws, err := openWorkspace(ctx, sliceBounds{})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer ws.Close()

	snap, err := ws.registry.Snapshot(ctx)
	if err != nil {
		log.Fatalf("Failed to discover components: %v", err)
	}
	pending := snap.Pending()
	if start == nil {
		start = registry.StartingPoints(pending)
	}
	classification := resolver.Resolve(snap, start)

	if planJSON {
		if err := report.WriteJSON(os.Stdout, report.NewPlanDocument(start, pending, classification)); err != nil {
			log.Fatalf("Failed to write JSON: %v", err)
		}
		return
	}

	incompatible := make([]string, 0, len(snap.Incompatible))
	for name := range snap.Incompatible {
		incompatible = append(incompatible, name)
	}
	sort.Strings(incompatible)
	for _, name := range incompatible {
		warnf("%s", snap.Incompatible[name])
	}
	if len(planStart) > 0 {
		points := make([]string, 0, len(start))
		for _, name := range sortedNames(start) {
			points = append(points, fmt.Sprintf("%s=%d", name, start[name]))
		}
		fmt.Printf("Starting from %s\n\n", strings.Join(points, ", "))
	}
	fmt.Print(report.Classification(classification))
	if blocked := len(classification.Blocked()); blocked > 0 {
		fmt.Printf("\n%d step(s) cannot run.\n", blocked)
	}
}
