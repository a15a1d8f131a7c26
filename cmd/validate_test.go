package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	if validateCmd == nil {
		t.Fatal("validateCmd should not be nil")
	}

	if validateCmd.Name() != "validate" {
		t.Errorf("expected name to be 'validate', got %q", validateCmd.Name())
	}

	if validateCmd.Short == "" {
		t.Error("validateCmd.Short should not be empty")
	}

	if validateCmd.Long == "" {
		t.Error("validateCmd.Long should not be empty")
	}

	if validateCmd.Example == "" {
		t.Error("validateCmd.Example should not be empty")
	}
}

const validateAuthManifest = `name = "auth"

[[steps]]
number = 1
sql = ["CREATE TABLE sessions (id INTEGER PRIMARY KEY)"]

[[steps]]
number = 2
sql = ["ALTER TABLE sessions ADD COLUMN expires_at INTEGER"]
`

const validateBillingManifest = `name: billing
steps:
  - number: 1
    sql:
      - CREATE TABLE invoices (id INTEGER PRIMARY KEY)
    depends_on:
      - auth#2
`

func writeManifests(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadCatalogDirectory(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"auth.toml":    validateAuthManifest,
		"billing.yaml": validateBillingManifest,
	})

	catalog, err := loadCatalog(dir)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	names := catalog.Names()
	if strings.Join(names, ",") != "auth,billing" {
		t.Fatalf("Expected auth and billing, got %v", names)
	}
	if warnings := catalog.Lint(); len(warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", warnings)
	}
}

func TestLoadCatalogSingleFile(t *testing.T) {
	dir := writeManifests(t, map[string]string{"billing.yaml": validateBillingManifest})

	catalog, err := loadCatalog(filepath.Join(dir, "billing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	warnings := catalog.Lint()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "auth#2") {
		t.Errorf("Expected a warning about auth#2, got %v", warnings)
	}
}

func TestLoadCatalogMissingPath(t *testing.T) {
	if _, err := loadCatalog(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("Expected error for missing path, got nil")
	}
}
