package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lockplane/stepplane/internal/batch"
	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/report"
	"github.com/lockplane/stepplane/internal/upgrade"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the results of a run",
	Long: `Show every step a run attempted, grouped by component, with its
messages and outcome, followed by steps that were skipped or never queued.

The run is forgotten once its results are shown unless --keep is set.`,
	Example: `  # Show results and clear the run
  stepplane results --token 2f1c...

  # Machine-readable results, keeping the run
  stepplane results --token 2f1c... --json --keep`,
	Run: runResults,
}

var (
	resultsToken string
	resultsJSON  bool
	resultsKeep  bool
)

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().StringVar(&resultsToken, "token", "", "Token of the run")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Output results as JSON")
	resultsCmd.Flags().BoolVar(&resultsKeep, "keep", false, "Keep the run after showing its results")
	_ = resultsCmd.MarkFlagRequired("token")
}

func runResults(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	ws, err := openWorkspace(ctx, sliceBounds{})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer ws.Close()

	state, err := loadRunResults(ctx, ws.runner, strings.TrimSpace(resultsToken), resultsKeep)
	if err != nil {
		log.Fatalf("Failed to load run: %v", err)
	}
	if state == nil {
		fmt.Println("No updates needed.")
		return
	}

	if resultsJSON {
		if err := report.WriteJSON(os.Stdout, report.NewResultsDocument(state)); err != nil {
			log.Fatalf("Failed to write JSON: %v", err)
		}
	} else {
		fmt.Print(report.Results(state))
	}
	if !state.Done() {
		warnf("Run is %s. Continue with: stepplane resume --token %s", state.Status, state.Token)
	}
	os.Exit(exitCode(state))
}

// loadRunResults returns the run for token, clearing it when it has finished
// unless keep is set. A token with no stored run yields a nil state.
func loadRunResults(ctx context.Context, runner *batch.Runner, token string, keep bool) (*progress.State, error) {
	state, err := runner.Status(ctx, token)
	if errors.Is(err, upgrade.ErrNoRun) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// Unfinished runs are shown but never cleared.
	return runner.Results(ctx, token, !keep && state.Done())
}
