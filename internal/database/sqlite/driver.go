package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Driver opens SQLite connections (modernc.org/sqlite) or libSQL/Turso
// connections, which speak the same SQL dialect.
type Driver struct {
	libsql bool
}

// NewDriver creates a new SQLite driver
func NewDriver() *Driver {
	return &Driver{}
}

// NewLibSQLDriver creates a driver for libsql:// urls
func NewLibSQLDriver() *Driver {
	return &Driver{libsql: true}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	if d.libsql {
		return "libsql"
	}
	return "sqlite"
}

// Placeholder returns ?
func (d *Driver) Placeholder(n int) string {
	return "?"
}

// OpenConnection opens the database and runs a ping to test it
func (d *Driver) OpenConnection(ctx context.Context, url string) (*sql.DB, error) {
	dsn := url
	if !d.libsql {
		dsn = ExtractFilePath(url)
	}

	db, err := sql.Open(d.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	if !d.libsql {
		// A single connection keeps :memory: databases alive and avoids
		// SQLITE_BUSY between our own connections.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ExtractFilePath extracts the actual file path from a SQLite connection string
func ExtractFilePath(connStr string) string {
	if connStr == ":memory:" {
		return connStr
	}

	// Handle sqlite:// prefix
	if strings.HasPrefix(connStr, "sqlite://") {
		path := strings.TrimPrefix(connStr, "sqlite://")
		// Remove query parameters
		if idx := strings.Index(path, "?"); idx >= 0 {
			path = path[:idx]
		}
		return path
	}

	// Otherwise, it's already a file path (file: urls are understood by the driver)
	return connStr
}
