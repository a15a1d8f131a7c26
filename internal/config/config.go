package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the project configuration file.
const FileName = "stepplane.toml"

const (
	defaultEnvironmentName = "local"
	defaultDatabaseURL     = "sqlite://stepplane.db"
	defaultComponentsDir   = "components"
	defaultStateDir        = ".stepplane"
	defaultMaxSteps        = 1
	defaultSliceBudget     = time.Second
)

// Progress store backends.
const (
	ProgressStoreFile     = "file"
	ProgressStoreDatabase = "database"
)

// EnvironmentConfig describes a single named environment from stepplane.toml.
type EnvironmentConfig struct {
	Description string `toml:"description"`
	DatabaseURL string `toml:"database_url"`
}

// RunConfig bounds how much work one invocation does before yielding.
type RunConfig struct {
	MaxStepsPerSlice int    `toml:"max_steps_per_slice"`
	SliceBudget      string `toml:"slice_budget"`
}

type Config struct {
	DefaultEnvironment string                       `toml:"default_environment"`
	DatabaseURL        string                       `toml:"database_url"`
	ComponentsDir      string                       `toml:"components_dir"`
	StateDir           string                       `toml:"state_dir"`
	ProgressStore      string                       `toml:"progress_store"`
	Run                RunConfig                    `toml:"run"`
	Environments       map[string]EnvironmentConfig `toml:"environments"`
	ConfigFilePath     string                       `toml:"-"`

	configDir string
}

// LoadConfig finds stepplane.toml in the working directory or a parent,
// stopping at the project root. An empty config is returned when none is
// found.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	dir := startDir
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, err
			}

			var config Config
			if err := toml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse %s as toml: %w", configPath, err)
			}
			if err := config.validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", configPath, err)
			}

			config.ConfigFilePath = configPath
			config.configDir = dir
			return &config, nil
		}

		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

func (c *Config) validate() error {
	switch c.ProgressStore {
	case "", ProgressStoreFile, ProgressStoreDatabase:
	default:
		return fmt.Errorf("progress_store must be %q or %q, got %q", ProgressStoreFile, ProgressStoreDatabase, c.ProgressStore)
	}
	if c.Run.MaxStepsPerSlice < 0 {
		return fmt.Errorf("run.max_steps_per_slice must not be negative")
	}
	if c.Run.SliceBudget != "" {
		if _, err := time.ParseDuration(c.Run.SliceBudget); err != nil {
			return fmt.Errorf("run.slice_budget: %w", err)
		}
	}
	return nil
}

// ConfigDir returns the directory holding stepplane.toml, or the working
// directory when there is none.
func (c *Config) ConfigDir() string {
	if c != nil && c.configDir != "" {
		return c.configDir
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return ""
}

// ProjectDir returns the nearest project root at or above ConfigDir.
func (c *Config) ProjectDir() string {
	dir := c.ConfigDir()
	for dir != "" {
		if isProjectRoot(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return c.ConfigDir()
}

// ComponentsPath returns the absolute components directory.
func (c *Config) ComponentsPath() string {
	dir := defaultComponentsDir
	if c != nil && c.ComponentsDir != "" {
		dir = c.ComponentsDir
	}
	return resolvePath(dir, c.ConfigDir())
}

// StatePath returns the absolute directory for file-backed run state.
func (c *Config) StatePath() string {
	dir := defaultStateDir
	if c != nil && c.StateDir != "" {
		dir = c.StateDir
	}
	return resolvePath(dir, c.ConfigDir())
}

// ProgressBackend returns the configured progress store backend.
func (c *Config) ProgressBackend() string {
	if c == nil || c.ProgressStore == "" {
		return ProgressStoreFile
	}
	return c.ProgressStore
}

// MaxSteps returns the step bound per slice. Zero means unbounded.
func (c *Config) MaxSteps() int {
	if c == nil || c.Run.MaxStepsPerSlice == 0 && c.Run.SliceBudget == "" {
		return defaultMaxSteps
	}
	return c.Run.MaxStepsPerSlice
}

// SliceBudget returns the wall time bound per slice. Zero means unbounded.
func (c *Config) SliceBudget() time.Duration {
	if c == nil || c.Run.SliceBudget == "" {
		if c == nil || c.Run.MaxStepsPerSlice == 0 {
			return defaultSliceBudget
		}
		return 0
	}
	d, _ := time.ParseDuration(c.Run.SliceBudget)
	return d
}

func resolvePath(path, base string) string {
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		return true
	}
	return false
}
