package db

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema change. Files are named
// NNNNNN_name.sql; the number is the schema version it produces.
type Migration struct {
	Version   int    `json:"version"`
	Name      string `json:"name"`
	AppliedAt string `json:"applied_at,omitempty"`
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

func (m Migration) file() string {
	return "migrations/" + m.String() + ".sql"
}

// Status describes the state database schema
type Status struct {
	Path    string      `json:"path"`
	Version int         `json:"version"`
	Latest  int         `json:"latest"`
	Applied []Migration `json:"applied"`
	Pending []Migration `json:"pending"`
}

// Fresh reports whether nothing has been applied yet
func (s Status) Fresh() bool {
	return len(s.Applied) == 0
}

// Migrate applies every pending migration, each in its own transaction
// together with its schema_migrations row and PRAGMA user_version.
func (db *DB) Migrate() ([]Migration, error) {
	status, err := db.Status()
	if err != nil {
		return nil, err
	}
	if status.Version > status.Latest {
		return nil, db.newerSchemaError(status)
	}

	var applied []Migration
	for _, m := range status.Pending {
		if err := db.apply(m); err != nil {
			return applied, err
		}
		applied = append(applied, m)
	}
	return applied, nil
}

func (db *DB) apply(m Migration) error {
	content, err := migrationsFS.ReadFile(m.file())
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", m, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", m, err)
	}
	defer tx.Rollback()

	if err := ensureTrackingTable(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", m, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m, err)
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.Exec("PRAGMA user_version = " + strconv.Itoa(m.Version)); err != nil {
		return fmt.Errorf("failed to set schema version %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m, err)
	}
	return nil
}

func ensureTrackingTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// SchemaVersion returns PRAGMA user_version, the last applied migration
func (db *DB) SchemaVersion() (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Status compares the embedded migrations with what the database recorded
func (db *DB) Status() (Status, error) {
	all, err := embeddedMigrations()
	if err != nil {
		return Status{}, err
	}
	status := Status{Path: db.path}
	if len(all) > 0 {
		status.Latest = all[len(all)-1].Version
	}
	if status.Version, err = db.SchemaVersion(); err != nil {
		return Status{}, err
	}

	recorded, err := db.recordedMigrations()
	if err != nil {
		return Status{}, err
	}
	for _, m := range all {
		if appliedAt, ok := recorded[m.Version]; ok {
			m.AppliedAt = appliedAt
			status.Applied = append(status.Applied, m)
		} else {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

func (db *DB) recordedMigrations() (map[int]string, error) {
	var exists int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_migrations'
	`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check for schema_migrations table: %w", err)
	}
	recorded := make(map[int]string)
	if exists == 0 {
		return recorded, nil
	}

	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var version int
		var appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		recorded[version] = appliedAt
	}
	return recorded, rows.Err()
}

// RequiresMigrationError returns nil when the schema is current; otherwise
// an error naming the database, its version and how to update it.
func (db *DB) RequiresMigrationError() error {
	status, err := db.Status()
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if status.Version > status.Latest {
		return db.newerSchemaError(status)
	}
	if len(status.Pending) == 0 {
		return nil
	}

	current := "none"
	if !status.Fresh() {
		current = status.Applied[len(status.Applied)-1].String()
	}
	return fmt.Errorf("state database at %s (version: %s) requires migration: %d pending migration(s). Run 'rebind statedb migrate' to update",
		db.path, current, len(status.Pending))
}

func (db *DB) newerSchemaError(status Status) error {
	return fmt.Errorf("state database at %s has schema version %d, newer than this rebind supports (%d)",
		db.path, status.Version, status.Latest)
}

func embeddedMigrations() ([]Migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".sql")
		if entry.IsDir() || !ok {
			continue
		}
		number, label, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(number)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s is not named NNNNNN_name.sql", entry.Name())
		}
		migrations = append(migrations, Migration{Version: version, Name: label})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
