package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockplane/stepplane/internal/flow"
	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/report"
	"github.com/lockplane/stepplane/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pending updates",
	Long: `Resolve pending updates, ask for confirmation and start a run.

Each invocation runs one slice of the queue (bounded by [run] settings in
stepplane.toml or --max-steps and --budget) and prints a run token. Use
--follow to keep going until the run finishes, or continue later with
'stepplane resume --token <token>'.`,
	Example: `  # Confirm and run one slice
  stepplane run

  # Run everything without prompting
  stepplane run --yes --follow

  # Run at most 5 steps per slice
  stepplane run --follow --max-steps 5`,
	Run: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue a run that has not finished",
	Example: `  # Continue one slice
  stepplane resume --token 2f1c...

  # Continue until done
  stepplane resume --token 2f1c... --follow`,
	Run: runResume,
}

var (
	runYes      bool
	runFollow   bool
	runMaxSteps int
	runBudget   time.Duration
	runToken    string
	runKeep     bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)

	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().BoolVar(&runFollow, "follow", false, "Keep advancing until the run finishes")
		c.Flags().IntVar(&runMaxSteps, "max-steps", 0, "Maximum steps per slice (0 = no limit)")
		c.Flags().DurationVar(&runBudget, "budget", 0, "Maximum time per slice (0 = no limit)")
		c.Flags().BoolVar(&runKeep, "keep", false, "Keep the run after reporting its results")
	}
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Run without asking for confirmation")
	resumeCmd.Flags().StringVar(&runToken, "token", "", "Token of the run to continue")
	_ = resumeCmd.MarkFlagRequired("token")
}

func runBounds(cmd *cobra.Command) sliceBounds {
	if cmd.Flags().Changed("max-steps") || cmd.Flags().Changed("budget") {
		return sliceBounds{maxSteps: runMaxSteps, budget: runBudget, set: true}
	}
	return sliceBounds{}
}

// cliHooks connects a session to the terminal.
type cliHooks struct {
	yes   bool
	quiet bool
}

func (h *cliHooks) Confirm(ctx context.Context, plan *flow.Plan) (bool, error) {
	fmt.Print(report.Pending(plan.Pending, nil))
	fmt.Println()
	fmt.Print(report.Classification(plan.Classification))
	if h.yes {
		return true, nil
	}
	if !isInteractive() {
		return false, errors.New("refusing to run without confirmation; pass --yes")
	}

	fmt.Printf("\nRun %d update(s)? [y/N] ", len(plan.Order))
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer != "y" && answer != "yes" {
		warnf("Update cancelled")
		return false, nil
	}
	return true, nil
}

func (h *cliHooks) Idle(plan *flow.Plan) {
	if plan.Classification == nil {
		fmt.Print(report.Pending(plan.Pending, nil))
		return
	}
	fmt.Print(report.Classification(plan.Classification))
	warnf("None of the pending updates can run")
}

func (h *cliHooks) Suspended(state *progress.State) {
	if h.quiet {
		return
	}
	successf("Completed %d of %d step(s)", state.Cursor, len(state.Queue))
	fmt.Printf("Continue with: stepplane resume --token %s\n", state.Token)
}

func (h *cliHooks) Results(state *progress.State) error {
	fmt.Print(report.Results(state))
	return nil
}

func runRun(cmd *cobra.Command, args []string) {
	os.Exit(session(cmd, ""))
}

func runResume(cmd *cobra.Command, args []string) {
	os.Exit(session(cmd, strings.TrimSpace(runToken)))
}

// session runs or resumes a run and returns the exit status.
func session(cmd *cobra.Command, token string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ws, err := openWorkspace(ctx, runBounds(cmd))
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer ws.Close()

	interactive := runFollow && isInteractive()
	hooks := &cliHooks{yes: runYes, quiet: interactive}
	orchestrator := flow.New(flow.Options{
		Registry: ws.registry,
		Runner:   ws.runner,
		Hooks:    hooks,
		Logger:   logger,
		Follow:   runFollow && !interactive,
		Keep:     runKeep,
	})

	var state *progress.State
	if token == "" {
		state, err = orchestrator.Run(ctx)
	} else {
		state, err = orchestrator.Resume(ctx, token)
	}
	if err != nil {
		errorf("%v", err)
		return 1
	}

	if interactive && state != nil && !state.Done() {
		done, err := ui.Drive(ctx, ws.runner, state.Token)
		hooks.quiet = false
		if err != nil {
			errorf("%v", err)
			return 1
		}
		if !done {
			latest, err := ws.runner.Status(context.WithoutCancel(ctx), state.Token)
			if err != nil {
				errorf("%v", err)
				return 1
			}
			hooks.Suspended(latest)
			return 0
		}
		state, err = orchestrator.Resume(context.WithoutCancel(ctx), state.Token)
		if err != nil {
			errorf("%v", err)
			return 1
		}
	}
	return exitCode(state)
}
