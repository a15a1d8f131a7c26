package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Driver opens PostgreSQL connections through lib/pq
type Driver struct {
}

// NewDriver creates a new PostgreSQL driver
func NewDriver() *Driver {
	return &Driver{}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "postgres"
}

// Placeholder returns $n
func (d *Driver) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// OpenConnection opens a connection to the database and runs a ping to test it
func (d *Driver) OpenConnection(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open(d.Name(), withSSLMode(url))
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// withSSLMode disables ssl unless the url already chooses a mode
func withSSLMode(url string) string {
	if strings.Contains(url, "sslmode=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&sslmode=disable"
	}
	return url + "?sslmode=disable"
}
