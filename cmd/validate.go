package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/stepplane/internal/config"
	"github.com/lockplane/stepplane/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate component manifests",
	Long: `Validate component manifests against the manifest schema and check
their steps.

Every .toml, .yaml and .yml file in the components directory is loaded.
PostgreSQL step SQL is parsed, dependency references are checked against
the declared components, and repeated statements are reported.`,
	Example: `  # Validate the configured components directory
  stepplane validate

  # Validate a single manifest
  stepplane validate components/billing.yaml`,
	Args: cobra.MaximumNArgs(1),
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		path = cfg.ComponentsPath()
	}

	catalog, err := loadCatalog(path)
	if err != nil {
		errorf("%v", err)
		os.Exit(1)
	}

	warnings := catalog.Lint()
	for _, w := range warnings {
		warnf("%s", w)
	}
	names := catalog.Names()
	if len(warnings) > 0 {
		fmt.Fprintf(os.Stderr, "%d problem(s) in %d component(s)\n", len(warnings), len(names))
		os.Exit(1)
	}
	successf("%d component(s) are valid: %s", len(names), path)
}

func loadCatalog(path string) (*manifest.Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return manifest.LoadDir(path)
	}
	m, err := manifest.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return manifest.NewCatalog(m)
}
