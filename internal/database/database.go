package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lockplane/stepplane/internal/database/postgres"
	"github.com/lockplane/stepplane/internal/database/sqlite"
)

// Dialect names a supported database family.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
)

// Driver opens connections for one dialect.
type Driver interface {
	// Name returns the database/sql driver name
	Name() string

	// OpenConnection opens a connection and pings it
	OpenConnection(ctx context.Context, url string) (*sql.DB, error)

	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder(n int) string
}

// DetectDialect infers the dialect from a connection string.
func DetectDialect(connStr string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(connStr))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return DialectLibSQL
	default:
		return DialectSQLite
	}
}

// NewDriver creates a new database driver for the dialect.
func NewDriver(dialect Dialect) (Driver, error) {
	switch dialect {
	case DialectPostgres:
		return postgres.NewDriver(), nil
	case DialectSQLite:
		return sqlite.NewDriver(), nil
	case DialectLibSQL:
		return sqlite.NewLibSQLDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}
}

// Connection bundles an open database with its dialect driver.
type Connection struct {
	DB      *sql.DB
	Dialect Dialect
	Driver  Driver
}

// Close closes the underlying database.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Open detects the dialect of connStr and opens a pinged connection.
func Open(ctx context.Context, connStr string) (*Connection, error) {
	dialect := DetectDialect(connStr)
	driver, err := NewDriver(dialect)
	if err != nil {
		return nil, err
	}
	db, err := driver.OpenConnection(ctx, connStr)
	if err != nil {
		return nil, err
	}
	return &Connection{DB: db, Dialect: dialect, Driver: driver}, nil
}
