// Package db opens rebind's own state database: a SQLite file holding run
// history, run logs and entity backups. It is never the database whose
// references are being migrated.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options tunes the state database connection
type Options struct {
	// BusyTimeout is how long a writer waits on a locked database
	BusyTimeout time.Duration
	// Synchronous is the SQLite synchronous level: OFF, NORMAL, FULL or EXTRA
	Synchronous string
}

// DefaultOptions fsyncs every commit
func DefaultOptions() Options {
	return Options{BusyTimeout: 5 * time.Second, Synchronous: "FULL"}
}

// DB wraps the state database connection pool
type DB struct {
	*sql.DB
	path string
}

// Open opens the state database at path with DefaultOptions
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, DefaultOptions())
}

// OpenWithOptions opens the state database at path. The pragmas are part of
// the DSN so every pooled connection gets them, not only the first.
func OpenWithOptions(path string, opts Options) (*DB, error) {
	dsn, err := stateDSN(path, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

func stateDSN(path string, opts Options) (string, error) {
	if path == "" {
		return "", fmt.Errorf("state database path is empty")
	}
	if strings.ContainsRune(path, '?') {
		return "", fmt.Errorf("state database path %q must not contain '?'", path)
	}
	if opts.BusyTimeout < 0 {
		return "", fmt.Errorf("busy timeout must not be negative, got %s", opts.BusyTimeout)
	}
	level := strings.ToUpper(strings.TrimSpace(opts.Synchronous))
	switch level {
	case "":
		level = DefaultOptions().Synchronous
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return "", fmt.Errorf("invalid synchronous level %q (must be one of: OFF, NORMAL, FULL, EXTRA)", opts.Synchronous)
	}

	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10))
	params.Set("_synchronous", level)
	params.Set("_txlock", "immediate")
	return path + "?" + params.Encode(), nil
}
