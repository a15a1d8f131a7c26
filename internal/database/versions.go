package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lockplane/stepplane/internal/upgrade"
)

// VersionsTable holds the applied baseline of every installed component.
const VersionsTable = "stepplane_versions"

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// VersionStore reads and writes component baselines.
type VersionStore struct {
	db     *sql.DB
	driver Driver
}

// NewVersionStore creates a version store on an open connection.
func NewVersionStore(conn *Connection) *VersionStore {
	return &VersionStore{db: conn.DB, driver: conn.Driver}
}

// EnsureTable creates the versions table if needed.
func (v *VersionStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	component TEXT PRIMARY KEY,
	version INTEGER NOT NULL
)`, VersionsTable)
	if _, err := v.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", VersionsTable, err)
	}
	return nil
}

// Versions returns the baseline of every installed component.
func (v *VersionStore) Versions(ctx context.Context) (map[string]int, error) {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("SELECT component, version FROM %s", VersionsTable))
	if err != nil {
		return nil, fmt.Errorf("failed to read versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]int)
	for rows.Next() {
		var (
			component string
			version   int
		)
		if err := rows.Scan(&component, &version); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		versions[component] = version
	}
	return versions, rows.Err()
}

// Version returns a component's baseline, or upgrade.SchemaUninstalled.
func (v *VersionStore) Version(ctx context.Context, component string) (int, error) {
	query := fmt.Sprintf("SELECT version FROM %s WHERE component = %s", VersionsTable, v.driver.Placeholder(1))
	var version int
	err := v.db.QueryRowContext(ctx, query, component).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return upgrade.SchemaUninstalled, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version of %s: %w", component, err)
	}
	return version, nil
}

// SetVersion records a component's baseline using exec, which may be a
// transaction shared with the step that produced the new version.
func (v *VersionStore) SetVersion(ctx context.Context, exec Execer, component string, version int) error {
	if exec == nil {
		exec = v.db
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (component, version) VALUES (%s, %s) ON CONFLICT (component) DO UPDATE SET version = excluded.version",
		VersionsTable, v.driver.Placeholder(1), v.driver.Placeholder(2),
	)
	if _, err := exec.ExecContext(ctx, query, component, version); err != nil {
		return fmt.Errorf("failed to record version %d for %s: %w", version, component, err)
	}
	return nil
}
