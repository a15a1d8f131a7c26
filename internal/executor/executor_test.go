package executor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lockplane/stepplane/internal/database"
	"github.com/lockplane/stepplane/internal/upgrade"
)

type stepTable map[upgrade.StepID]upgrade.StepDef

func (s stepTable) Step(id upgrade.StepID) (upgrade.StepDef, bool) {
	def, ok := s[id]
	return def, ok
}

func step(component string, number int, statements ...string) upgrade.StepDef {
	return upgrade.StepDef{
		ID:         upgrade.StepID{Component: component, Number: number},
		Statements: statements,
	}
}

func setup(t *testing.T, defs ...upgrade.StepDef) (*Executor, *database.VersionStore, *database.Connection) {
	t.Helper()
	ctx := context.Background()
	conn, err := database.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	versions := database.NewVersionStore(conn)
	if err := versions.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	table := stepTable{}
	for _, def := range defs {
		table[def.ID] = def
	}
	return New(conn, table, nil), versions, conn
}

func TestInvokeAppliesStepAndRecordsVersion(t *testing.T) {
	ctx := context.Background()
	def := step("notes", 1,
		"CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)",
		"CREATE INDEX notes_body ON notes (body)",
	)
	def.Description = "Create notes"
	exec, versions, conn := setup(t, def)

	outcome, err := exec.Invoke(ctx, def.ID)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if len(outcome.Messages) != 2 || outcome.Messages[0] != "Create notes" || outcome.Messages[1] != "applied 2 statement(s)" {
		t.Errorf("Unexpected messages: %v", outcome.Messages)
	}

	version, err := versions.Version(ctx, "notes")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1, got %d", version)
	}
	if _, err := conn.DB.ExecContext(ctx, "INSERT INTO notes (body) VALUES ('hi')"); err != nil {
		t.Errorf("Expected notes table to exist: %v", err)
	}
}

func TestFailedStepRollsBack(t *testing.T) {
	ctx := context.Background()
	def := step("notes", 1,
		"CREATE TABLE notes (id INTEGER PRIMARY KEY)",
		"INSERT INTO missing_table VALUES (1)",
	)
	exec, versions, conn := setup(t, def)

	_, err := exec.Invoke(ctx, def.ID)
	if err == nil {
		t.Fatal("Expected failure")
	}
	if upgrade.IsAbort(err) {
		t.Error("A statement failure should fail only the step")
	}
	if !strings.Contains(err.Error(), "statement 2 failed") {
		t.Errorf("Unexpected error: %v", err)
	}

	version, _ := versions.Version(ctx, "notes")
	if version != upgrade.SchemaUninstalled {
		t.Errorf("Expected no recorded version, got %d", version)
	}
	if _, err := conn.DB.ExecContext(ctx, "SELECT * FROM notes"); err == nil {
		t.Error("Expected the notes table to be rolled back")
	}
}

func TestFatalStepAborts(t *testing.T) {
	def := step("notes", 1, "INSERT INTO missing_table VALUES (1)")
	def.Fatal = true
	exec, _, _ := setup(t, def)

	_, err := exec.Invoke(context.Background(), def.ID)
	if !upgrade.IsAbort(err) {
		t.Errorf("Expected abort for fatal step, got %v", err)
	}
}

func TestUnusableSteps(t *testing.T) {
	removed := step("notes", 2)
	removed.Removed = true
	broken := step("notes", 3, "CREATE TABLE (")
	broken.Broken = errUnparsable
	exec, _, _ := setup(t, removed, broken)

	for _, id := range []upgrade.StepID{
		{Component: "notes", Number: 1},
		removed.ID,
		broken.ID,
	} {
		if _, err := exec.Invoke(context.Background(), id); err == nil {
			t.Errorf("Expected %s to fail", id)
		}
	}
}

func TestInstall(t *testing.T) {
	ctx := context.Background()
	exec, versions, _ := setup(t)

	if err := exec.Install(ctx, "auth", 5); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	version, err := versions.Version(ctx, "auth")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != 5 {
		t.Errorf("Expected version 5, got %d", version)
	}
}

func TestNeedsNoTransaction(t *testing.T) {
	if !needsNoTransaction([]string{"CREATE INDEX CONCURRENTLY idx ON t (c)"}) {
		t.Error("Expected CONCURRENTLY to run outside a transaction")
	}
	if needsNoTransaction([]string{"CREATE INDEX idx ON t (c)"}) {
		t.Error("Expected plain statements to run in a transaction")
	}
}

var errUnparsable = &parseError{}

type parseError struct{}

func (*parseError) Error() string { return "statement 1 does not parse" }
