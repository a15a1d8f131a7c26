// Package executor applies component steps to a SQL database.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lockplane/stepplane/internal/batch"
	"github.com/lockplane/stepplane/internal/database"
	"github.com/lockplane/stepplane/internal/upgrade"
)

// Steps looks up declared step definitions.
type Steps interface {
	Step(id upgrade.StepID) (upgrade.StepDef, bool)
}

// Executor runs a step's statements and records the new baseline in the
// same transaction, so a step either fully applies or leaves no trace.
type Executor struct {
	db       *sql.DB
	versions *database.VersionStore
	steps    Steps
	logger   *slog.Logger
}

// New creates an executor over an open connection.
func New(conn *database.Connection, steps Steps, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{
		db:       conn.DB,
		versions: database.NewVersionStore(conn),
		steps:    steps,
		logger:   logger,
	}
}

var _ batch.Executor = (*Executor)(nil)

// Invoke applies one step.
func (e *Executor) Invoke(ctx context.Context, id upgrade.StepID) (batch.Outcome, error) {
	def, ok := e.steps.Step(id)
	if !ok {
		return batch.Outcome{}, fmt.Errorf("%s is no longer declared", id)
	}
	if def.Removed {
		return batch.Outcome{}, fmt.Errorf("%s has been removed", id)
	}
	if def.Broken != nil {
		return batch.Outcome{}, fmt.Errorf("%s cannot run: %w", id, def.Broken)
	}

	var (
		messages []string
		err      error
	)
	if def.Description != "" {
		messages = append(messages, def.Description)
	}
	if needsNoTransaction(def.Statements) {
		err = e.applyDirect(ctx, def)
		messages = append(messages, "ran outside a transaction")
	} else {
		err = e.applyInTx(ctx, def)
	}
	if err != nil {
		return batch.Outcome{Messages: messages}, classify(def, err)
	}

	messages = append(messages, fmt.Sprintf("applied %d statement(s)", len(def.Statements)))
	return batch.Outcome{Messages: messages}, nil
}

func (e *Executor) applyInTx(ctx context.Context, def upgrade.StepDef) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range def.Statements {
		e.logger.Debug("executing statement", slog.String("step", def.ID.String()), slog.Int("index", i+1))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}
	if err := e.versions.SetVersion(ctx, tx, def.ID.Component, def.ID.Number); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// applyDirect runs statements that cannot run inside a transaction block,
// like CREATE INDEX CONCURRENTLY. A failure part way leaves earlier
// statements applied.
func (e *Executor) applyDirect(ctx context.Context, def upgrade.StepDef) error {
	for i, stmt := range def.Statements {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}
	return e.versions.SetVersion(ctx, nil, def.ID.Component, def.ID.Number)
}

// Install records a component's baseline without running any steps.
func (e *Executor) Install(ctx context.Context, component string, version int) error {
	if err := e.versions.EnsureTable(ctx); err != nil {
		return err
	}
	return e.versions.SetVersion(ctx, nil, component, version)
}

func needsNoTransaction(statements []string) bool {
	for _, stmt := range statements {
		if strings.Contains(strings.ToUpper(stmt), "CONCURRENTLY") {
			return true
		}
	}
	return false
}

// classify turns failures that leave the database in an unknown state into
// aborts. Everything else fails only the step.
func classify(def upgrade.StepDef, err error) error {
	if def.Fatal || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return upgrade.Abort(err)
	}
	return err
}
