package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lherron/rebind/internal/db"
)

func openTemp(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func pragma(t *testing.T, database *db.DB, name string) string {
	t.Helper()
	var value string
	require.NoError(t, database.QueryRow("PRAGMA "+name).Scan(&value))
	return value
}

func TestOpenAppliesPragmasToEveryConnection(t *testing.T) {
	database := openTemp(t)
	database.SetMaxOpenConns(2)

	// Hold one connection so the second query needs a new one.
	conn, err := database.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "1", pragma(t, database, "foreign_keys"))
	require.Equal(t, "wal", pragma(t, database, "journal_mode"))
	require.Equal(t, "5000", pragma(t, database, "busy_timeout"))
	require.Equal(t, "2", pragma(t, database, "synchronous"))
}

func TestOpenWithOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	database, err := db.OpenWithOptions(path, db.Options{BusyTimeout: 250 * time.Millisecond, Synchronous: "normal"})
	require.NoError(t, err)
	defer database.Close()

	require.Equal(t, path, database.Path())
	require.Equal(t, "250", pragma(t, database, "busy_timeout"))
	require.Equal(t, "1", pragma(t, database, "synchronous"))
}

func TestOpenWithOptionsRejectsBadSettings(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		opts db.Options
	}{
		{name: "synchronous", path: filepath.Join(dir, "a.db"), opts: db.Options{Synchronous: "SOMETIMES"}},
		{name: "negative timeout", path: filepath.Join(dir, "b.db"), opts: db.Options{BusyTimeout: -time.Second}},
		{name: "empty path", path: "", opts: db.DefaultOptions()},
		{name: "query in path", path: filepath.Join(dir, "c.db?mode=ro"), opts: db.DefaultOptions()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.OpenWithOptions(tt.path, tt.opts)
			require.Error(t, err)
		})
	}
}

func TestMigrateRecordsSchemaVersion(t *testing.T) {
	database := openTemp(t)

	status, err := database.Status()
	require.NoError(t, err)
	require.True(t, status.Fresh())
	require.Zero(t, status.Version)
	require.Equal(t, 2, status.Latest)
	require.Len(t, status.Pending, 2)

	applied, err := database.Migrate()
	require.NoError(t, err)
	require.Equal(t, []string{"000001_baseline", "000002_backups"}, []string{applied[0].String(), applied[1].String()})

	version, err := database.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, 2, version)

	status, err = database.Status()
	require.NoError(t, err)
	require.Empty(t, status.Pending)
	require.Len(t, status.Applied, 2)
	require.NotEmpty(t, status.Applied[0].AppliedAt)

	applied, err = database.Migrate()
	require.NoError(t, err)
	require.Empty(t, applied)

	for _, table := range []string{"runs", "run_events", "backups"} {
		var n int
		require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n))
		require.Equal(t, 1, n, "table %s", table)
	}
}

func TestRequiresMigrationError(t *testing.T) {
	database := openTemp(t)

	err := database.RequiresMigrationError()
	require.ErrorContains(t, err, "version: none")
	require.ErrorContains(t, err, database.Path())

	_, err = database.Migrate()
	require.NoError(t, err)
	require.NoError(t, database.RequiresMigrationError())

	_, err = database.Exec("DELETE FROM schema_migrations WHERE version = 2")
	require.NoError(t, err)
	err = database.RequiresMigrationError()
	require.ErrorContains(t, err, "version: 000001_baseline")
	require.ErrorContains(t, err, "1 pending migration")
	require.ErrorContains(t, err, "rebind statedb migrate")
}

func TestNewerSchemaIsRefused(t *testing.T) {
	database := openTemp(t)
	_, err := database.Migrate()
	require.NoError(t, err)
	_, err = database.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)

	require.ErrorContains(t, database.RequiresMigrationError(), "newer than this rebind supports")
	_, err = database.Migrate()
	require.ErrorContains(t, err, "schema version 99")
}

func TestBackupsAreImmutable(t *testing.T) {
	database := openTemp(t)
	_, err := database.Migrate()
	require.NoError(t, err)

	_, err = database.Exec(`
		INSERT INTO backups (uuid, entity_table, primary_key, entity_id, taken_at, digest, snapshot)
		VALUES ('b-1', 'users', 'id', '41', '2025-01-01T00:00:00Z', 'sha256:00', '{}')
	`)
	require.NoError(t, err)

	_, err = database.Exec(`UPDATE backups SET snapshot = '{"x":1}' WHERE uuid = 'b-1'`)
	require.Error(t, err)
	_, err = database.Exec(`DELETE FROM backups WHERE uuid = 'b-1'`)
	require.Error(t, err)
}
