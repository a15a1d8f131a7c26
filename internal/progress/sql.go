package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunsTable stores one row per active run.
const RunsTable = "stepplane_runs"

// Placeholders renders the n-th bind parameter for the target database.
type Placeholders interface {
	Placeholder(n int) string
}

// SQLStore keeps runs in the target database, next to the data the steps
// upgrade.
type SQLStore struct {
	db *sql.DB
	ph Placeholders
}

// NewSQLStore creates the runs table if needed and returns a store.
func NewSQLStore(ctx context.Context, db *sql.DB, ph Placeholders) (*SQLStore, error) {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	token TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, RunsTable)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", RunsTable, err)
	}
	return &SQLStore{db: db, ph: ph}, nil
}

// Save upserts the run row.
func (s *SQLStore) Save(ctx context.Context, state *State) error {
	if state == nil {
		return errors.New("nil run state")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (token, state, updated_at) VALUES (%s, %s, %s) ON CONFLICT (token) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at",
		RunsTable, s.ph.Placeholder(1), s.ph.Placeholder(2), s.ph.Placeholder(3),
	)
	if _, err := s.db.ExecContext(ctx, query, state.Token, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// Load reads the run row for token.
func (s *SQLStore) Load(ctx context.Context, token string) (*State, error) {
	query := fmt.Sprintf("SELECT state FROM %s WHERE token = %s", RunsTable, s.ph.Placeholder(1))
	var data string
	err := s.db.QueryRowContext(ctx, query, token).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return &state, nil
}

// Clear deletes the run row.
func (s *SQLStore) Clear(ctx context.Context, token string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE token = %s", RunsTable, s.ph.Placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to clear run state: %w", err)
	}
	return nil
}

// Active lists the stored tokens, sorted.
func (s *SQLStore) Active(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT token FROM %s ORDER BY token", RunsTable))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
