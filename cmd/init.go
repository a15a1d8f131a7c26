package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lockplane/stepplane/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new stepplane config",
	Long: `Create stepplane.toml and an empty components directory in the current
directory, and keep .env.* files and run state out of git.`,
	Example: `  # SQLite database next to the config
  stepplane init

  # Postgres, with the connection string kept in .env.local
  stepplane init --database-url postgres://localhost:5432/app`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var (
	initForce       bool
	initDatabaseURL string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing stepplane.toml file")
	initCmd.Flags().StringVar(&initDatabaseURL, "database-url", "", "Connection string written to .env.<env>")
}

func runInit(cmd *cobra.Command, args []string) {
	dir, err := os.Getwd()
	if err != nil {
		errorf("%v", err)
		os.Exit(1)
	}
	envName := strings.TrimSpace(environment)
	if envName == "" {
		envName = "local"
	}

	created, err := initProject(dir, envName, initDatabaseURL, initForce)
	if err != nil {
		errorf("%v", err)
		os.Exit(1)
	}
	for _, path := range created {
		successf("Wrote %s", path)
	}
	fmt.Println("\nAdd component manifests to components/ and run 'stepplane status'.")
}

// initProject writes the config, the components directory and .gitignore
// entries into dir. It returns the paths it wrote, relative to dir.
func initProject(dir, envName, databaseURL string, force bool) ([]string, error) {
	configPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return nil, fmt.Errorf("%s already exists; use --force to overwrite", config.FileName)
	}

	var written []string
	if err := os.WriteFile(configPath, []byte(configTemplate(envName)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", config.FileName, err)
	}
	written = append(written, config.FileName)

	if err := os.MkdirAll(filepath.Join(dir, "components"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create components directory: %w", err)
	}
	written = append(written, "components/")

	if databaseURL != "" {
		envFile := ".env." + envName
		content := fmt.Sprintf("# Stepplane environment: %s\n# Do not commit this file if it contains secrets!\nDATABASE_URL=%s\n", envName, databaseURL)
		// Credentials stay readable by the owner only.
		if err := os.WriteFile(filepath.Join(dir, envFile), []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", envFile, err)
		}
		written = append(written, envFile)
	}

	updated, err := updateGitignore(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return nil, fmt.Errorf("failed to update .gitignore: %w", err)
	}
	if updated {
		written = append(written, ".gitignore")
	}
	return written, nil
}

func configTemplate(envName string) string {
	var b strings.Builder
	b.WriteString("# Stepplane Configuration\n")
	b.WriteString("# Generated by: stepplane init\n")
	b.WriteString("#\n")
	b.WriteString("# Credentials: Stored in .env.* files (never in this file)\n\n")
	fmt.Fprintf(&b, "default_environment = %q\n", envName)
	b.WriteString("components_dir = \"components\"\n")
	b.WriteString("progress_store = \"file\"\n\n")
	b.WriteString("[run]\n")
	b.WriteString("max_steps_per_slice = 1\n")
	b.WriteString("slice_budget = \"1s\"\n\n")
	fmt.Fprintf(&b, "[environments.%s]\n", envName)
	fmt.Fprintf(&b, "description = %q\n", envName+" database")
	fmt.Fprintf(&b, "# Connection: .env.%s (defaults to sqlite://stepplane.db)\n", envName)
	return b.String()
}

// updateGitignore appends ignore rules for env files and run state unless
// they are already present.
func updateGitignore(path string) (bool, error) {
	content := ""
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return false, err
	}

	var missing []string
	for _, pattern := range []string{".env.*", ".stepplane/"} {
		if !strings.Contains(content, pattern) {
			missing = append(missing, pattern)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	var b strings.Builder
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# Stepplane (added by stepplane init)\n")
	for _, pattern := range missing {
		b.WriteString(pattern + "\n")
	}
	return true, os.WriteFile(path, []byte(b.String()), 0o644)
}
