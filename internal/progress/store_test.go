package progress

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/lockplane/stepplane/internal/database"
	"github.com/lockplane/stepplane/internal/upgrade"
)

func newFileStore(t *testing.T) Store {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), ".stepplane"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return store
}

func newSQLStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	conn, err := database.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	store, err := NewSQLStore(ctx, conn.DB, conn.Driver)
	if err != nil {
		t.Fatalf("NewSQLStore failed: %v", err)
	}
	return store
}

func sampleState(token string) *State {
	state := NewState(token)
	state.Status = StatusSuspended
	state.Sets = []map[string]int{{"auth": 3, "billing": 1}}
	state.Queue = []Operation{
		{Step: upgrade.StepID{Component: "auth", Number: 4}},
		{Step: upgrade.StepID{Component: "auth", Number: 5}, Dependencies: []upgrade.StepID{{Component: "auth", Number: 4}}},
	}
	state.Cursor = 1
	state.Results = []StepResult{{Component: "auth", Number: 4, Messages: []string{"Added sessions table"}, Success: true}}
	return state
}

func TestStores(t *testing.T) {
	stores := map[string]func(*testing.T) Store{
		"file": newFileStore,
		"sql":  newSQLStore,
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			token := uuid.NewString()

			// Reading before any run has started is not an error.
			got, err := store.Load(ctx, token)
			if err != nil {
				t.Fatalf("Load of absent run failed: %v", err)
			}
			if got != nil {
				t.Fatalf("Expected absent run, got %+v", got)
			}

			want := sampleState(token)
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, err = store.Load(ctx, token)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got == nil {
				t.Fatal("Expected stored run")
			}
			if got.Token != token || got.Status != StatusSuspended || got.Cursor != 1 {
				t.Errorf("Unexpected run: %+v", got)
			}
			if !reflect.DeepEqual(got.Queue, want.Queue) {
				t.Errorf("Queue mismatch: got %+v, want %+v", got.Queue, want.Queue)
			}
			if !reflect.DeepEqual(got.Results, want.Results) {
				t.Errorf("Results mismatch: got %+v, want %+v", got.Results, want.Results)
			}

			// Saving again replaces the record.
			got.Cursor = 2
			got.Status = StatusCompleted
			if err := store.Save(ctx, got); err != nil {
				t.Fatalf("Second save failed: %v", err)
			}
			again, err := store.Load(ctx, token)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if again.Cursor != 2 || !again.Done() {
				t.Errorf("Expected updated run, got %+v", again)
			}

			active, err := store.Active(ctx)
			if err != nil {
				t.Fatalf("Active failed: %v", err)
			}
			if len(active) != 1 || active[0] != token {
				t.Errorf("Expected [%s] active, got %v", token, active)
			}

			if err := store.Clear(ctx, token); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if err := store.Clear(ctx, token); err != nil {
				t.Fatalf("Clearing twice should not fail: %v", err)
			}
			cleared, err := store.Load(ctx, token)
			if err != nil {
				t.Fatalf("Load after clear failed: %v", err)
			}
			if cleared != nil {
				t.Error("Expected run to be gone after Clear")
			}
		})
	}
}

func TestFileStoreRejectsBadToken(t *testing.T) {
	store := newFileStore(t)
	if _, err := store.Load(context.Background(), "../../etc/passwd"); err == nil {
		t.Error("Expected invalid token to be rejected")
	}
}

func TestStateHelpers(t *testing.T) {
	state := sampleState(uuid.NewString())
	state.Failed = []upgrade.StepID{{Component: "auth", Number: 4}}
	state.Blocked = []Blocked{{Step: upgrade.StepID{Component: "search", Number: 1}, Cause: "structural"}}

	if len(state.Remaining()) != 1 {
		t.Errorf("Expected 1 remaining operation, got %d", len(state.Remaining()))
	}
	if !state.HasFailed(upgrade.StepID{Component: "auth", Number: 4}) {
		t.Error("Expected auth#4 to be failed")
	}
	if state.Done() {
		t.Error("Suspended run should not be done")
	}
	if got := state.Components(); !reflect.DeepEqual(got, []string{"auth", "search"}) {
		t.Errorf("Unexpected components: %v", got)
	}
	if got := state.ResultsByComponent()["auth"]; len(got) != 1 {
		t.Errorf("Expected 1 auth result, got %v", got)
	}
}
