package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/lockplane/stepplane/internal/batch"
	"github.com/lockplane/stepplane/internal/config"
	"github.com/lockplane/stepplane/internal/database"
	"github.com/lockplane/stepplane/internal/executor"
	"github.com/lockplane/stepplane/internal/manifest"
	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/registry"
)

// printConfigNotFound prints a helpful message when stepplane.toml is not found
func printConfigNotFound() {
	fmt.Println(`stepplane.toml not found. Create one that looks like:

components_dir = "components"

[environments.local]
database_url = "sqlite://app.db"`)
}

func warnf(format string, args ...any) {
	_, _ = color.New(color.FgYellow).Fprintf(os.Stderr, "⚠ "+format+"\n", args...)
}

func successf(format string, args ...any) {
	_, _ = color.New(color.FgGreen).Fprintf(os.Stderr, "✓ "+format+"\n", args...)
}

func errorf(format string, args ...any) {
	_, _ = color.New(color.FgRed).Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// isInteractive reports whether stdin and stdout are terminals.
func isInteractive() bool {
	return isTerminal(os.Stdin.Fd()) && isTerminal(os.Stdout.Fd())
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// sliceBounds overrides the configured slice bounds with command flags.
type sliceBounds struct {
	maxSteps int
	budget   time.Duration
	set      bool
}

// workspace is everything a command needs to inspect or run updates.
type workspace struct {
	cfg      *config.Config
	env      *config.ResolvedEnvironment
	conn     *database.Connection
	catalog  *manifest.Catalog
	versions *database.VersionStore
	registry *registry.Registry
	store    progress.Store
	executor *executor.Executor
	runner   *batch.Runner
}

func openWorkspace(ctx context.Context, bounds sliceBounds) (*workspace, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if cfg.ConfigFilePath == "" {
		printConfigNotFound()
	}

	env, err := config.ResolveEnvironment(cfg, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment: %w", err)
	}
	logger.Debug("resolved environment",
		"name", env.Name,
		"from_config", env.FromConfig,
		"from_dotenv", env.FromDotenv,
	)

	catalog, err := manifest.LoadDir(cfg.ComponentsPath())
	if err != nil {
		return nil, err
	}

	conn, err := database.Open(ctx, env.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", env.Name, err)
	}
	versions := database.NewVersionStore(conn)
	if err := versions.EnsureTable(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	var store progress.Store
	switch cfg.ProgressBackend() {
	case config.ProgressStoreDatabase:
		store, err = progress.NewSQLStore(ctx, conn.DB, conn.Driver)
	default:
		store, err = progress.NewFileStore(cfg.StatePath())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	reg := registry.New(manifest.NewSource(catalog, versions), logger)
	exec := executor.New(conn, catalog, logger)

	maxSteps, budget := cfg.MaxSteps(), cfg.SliceBudget()
	if bounds.set {
		maxSteps, budget = bounds.maxSteps, bounds.budget
	}
	runner := batch.New(batch.Config{
		Store:     store,
		Executor:  exec,
		Snapshots: reg,
		Logger:    logger,
		MaxSteps:  maxSteps,
		Budget:    budget,
	})

	return &workspace{
		cfg:      cfg,
		env:      env,
		conn:     conn,
		catalog:  catalog,
		versions: versions,
		registry: reg,
		store:    store,
		executor: exec,
		runner:   runner,
	}, nil
}

func (w *workspace) Close() {
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

// parseStartPoints parses component=version pairs.
func parseStartPoints(values []string) (map[string]int, error) {
	if len(values) == 0 {
		return nil, nil
	}
	start := make(map[string]int, len(values))
	for _, v := range values {
		name, number, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid starting point %q: expected component=version", v)
		}
		n, err := strconv.Atoi(strings.TrimSpace(number))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid starting point %q: version must be a non-negative integer", v)
		}
		start[name] = n
	}
	return start, nil
}

// exitCode maps a finished run to the process exit status.
func exitCode(state *progress.State) int {
	if state == nil || state.Success == nil || *state.Success {
		return 0
	}
	return 1
}

func sortedNames(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
