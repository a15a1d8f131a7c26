package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/lockplane/stepplane/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List pending updates per component",
	Long: `List the pending update steps of every installed component.

Components whose metadata cannot be loaded are reported as incompatible
with a warning, and components that were never installed are listed
separately.`,
	Example: `  # Show pending updates for the default environment
  stepplane status

  # Show pending updates for staging
  stepplane status --env staging`,
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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
	fmt.Print(report.Pending(snap.Pending(), snap.Uninstalled))

	active, err := ws.runner.Active(ctx)
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}
	for _, token := range active {
		warnf("Run %s has not been reported. Resume it with: stepplane resume --token %s", token, token)
	}
}
