package cmd

import (
	"context"
	"log"
	"strings"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install COMPONENT",
	Short: "Mark a component's schema as installed",
	Long: `Record the applied version of a component without running any steps.

A freshly installed component already has its latest schema, so by default
its version is set to the highest declared step. Use --at to record an
older version so the steps above it become pending.`,
	Example: `  # Mark billing as installed at its latest step
  stepplane install billing

  # Mark billing as installed at version 1
  stepplane install billing --at 1`,
	Args: cobra.ExactArgs(1),
	Run:  runInstall,
}

var installAt int

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().IntVar(&installAt, "at", -1, "Version to record (default: latest declared step)")
}

func runInstall(cmd *cobra.Command, args []string) {
	name := strings.TrimSpace(args[0])

	ctx := context.Background()
	ws, err := openWorkspace(ctx, sliceBounds{})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer ws.Close()

	if err := ws.catalog.Failed(name); err != nil {
		log.Fatalf("Component %s cannot be loaded: %v", name, err)
	}
	m, ok := ws.catalog.Get(name)
	if !ok {
		log.Fatalf("Component %q is not declared in %s", name, ws.cfg.ComponentsPath())
	}
	version := installAt
	if !cmd.Flags().Changed("at") {
		version = m.Component(0).MaxNumber()
		if version < m.LastRemoved {
			version = m.LastRemoved
		}
	}
	if version < m.LastRemoved {
		log.Fatalf("Version %d of %s is older than its last removed update %d", version, name, m.LastRemoved)
	}

	if err := ws.executor.Install(ctx, name, version); err != nil {
		log.Fatalf("Failed to install %s: %v", name, err)
	}
	successf("Installed %s at version %d", name, version)
}
