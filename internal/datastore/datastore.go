// Package datastore opens the relational database whose references are
// migrated and exposes the narrow query surface the engine needs.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Pool hands out exclusive connections for write runs and serves
// individual reads directly
type Pool interface {
	Querier
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Options configures a data store connection
type Options struct {
	Dialect      Dialect
	DSN          string
	Schema       string
	MaxOpenConns int
	PingTimeout  time.Duration
}

// Store is a connection pool bound to one dialect and schema
type Store struct {
	*sql.DB
	dialect Dialect
	schema  string
}

// Open opens the data store and pings it
func Open(opts Options) (*Store, error) {
	if err := opts.Dialect.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("data store DSN is empty")
	}

	dsn := opts.DSN
	if opts.Dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(opts.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, opts.Dialect, opts.Schema), nil
}

// New wraps an already opened pool
func New(db *sql.DB, dialect Dialect, schema string) *Store {
	return &Store{DB: db, dialect: dialect, schema: schema}
}

// Dialect returns the SQL dialect of the store
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Schema returns the configured schema, which may be empty
func (s *Store) Schema() string {
	return s.schema
}

// Catalog returns schema metadata queries scoped to the store's dialect
func (s *Store) Catalog() Catalog {
	return NewCatalog(s.dialect, s.DB)
}

// SQL returns a statement builder for the store's dialect and schema
func (s *Store) SQL() Builder {
	return Builder{Dialect: s.dialect, Schema: s.schema}
}

// sqliteDSN turns on foreign keys and a busy timeout for every pooled
// connection, not just the first one.
func sqliteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk=") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout") && !strings.Contains(dsn, "_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
