package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/lockplane/stepplane/internal/config"
)

func TestInitProject(t *testing.T) {
	dir := t.TempDir()

	written, err := initProject(dir, "local", "", false)
	if err != nil {
		t.Fatalf("Failed to init project: %v", err)
	}
	if strings.Join(written, ",") != "stepplane.toml,components/,.gitignore" {
		t.Errorf("Unexpected files written: %v", written)
	}

	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Generated config does not parse: %v\n%s", err, data)
	}
	if cfg.DefaultEnvironment != "local" || cfg.ComponentsDir != "components" {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.Run.MaxStepsPerSlice != 1 || cfg.Run.SliceBudget != "1s" {
		t.Errorf("Unexpected run settings: %+v", cfg.Run)
	}
	if _, ok := cfg.Environments["local"]; !ok {
		t.Error("Expected environments.local to be defined")
	}

	if info, err := os.Stat(filepath.Join(dir, "components")); err != nil || !info.IsDir() {
		t.Errorf("Expected components directory, got %v", err)
	}
}

func TestInitProjectRefusesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(configPath, []byte("existing"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := initProject(dir, "local", "", false); err == nil {
		t.Fatal("Expected error when config exists, got nil")
	}
	data, _ := os.ReadFile(configPath)
	if string(data) != "existing" {
		t.Errorf("Config was overwritten without --force: %q", data)
	}

	if _, err := initProject(dir, "local", "", true); err != nil {
		t.Fatalf("Failed to init project with force: %v", err)
	}
}

func TestInitProjectWritesDotenv(t *testing.T) {
	dir := t.TempDir()

	if _, err := initProject(dir, "staging", "postgres://localhost/app", false); err != nil {
		t.Fatalf("Failed to init project: %v", err)
	}

	envPath := filepath.Join(dir, ".env.staging")
	info, err := os.Stat(envPath)
	if err != nil {
		t.Fatalf("Expected .env.staging: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected .env.staging mode 0600, got %o", info.Mode().Perm())
	}

	data, _ := os.ReadFile(envPath)
	if !strings.Contains(string(data), "DATABASE_URL=postgres://localhost/app") {
		t.Errorf("Expected DATABASE_URL in .env.staging, got %q", data)
	}
}

func TestUpdateGitignore(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitignore")
	if err := os.WriteFile(path, []byte("node_modules/"), 0o644); err != nil {
		t.Fatalf("Failed to write .gitignore: %v", err)
	}

	updated, err := updateGitignore(path)
	if err != nil {
		t.Fatalf("Failed to update .gitignore: %v", err)
	}
	if !updated {
		t.Fatal("Expected .gitignore to be updated")
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.HasPrefix(content, "node_modules/\n") {
		t.Errorf("Expected existing entries to be kept, got %q", content)
	}
	for _, pattern := range []string{".env.*", ".stepplane/"} {
		if !strings.Contains(content, pattern) {
			t.Errorf("Expected %q in .gitignore, got %q", pattern, content)
		}
	}

	updated, err = updateGitignore(path)
	if err != nil {
		t.Fatalf("Failed to update .gitignore again: %v", err)
	}
	if updated {
		t.Error("Expected second update to be a no-op")
	}
}
