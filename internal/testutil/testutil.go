package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/db"
	"github.com/lherron/rebind/internal/domain"
)

// FixtureSchema is a small users/content/media/comments database used
// across engine tests.
const FixtureSchema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT,
		created_at TEXT NOT NULL DEFAULT '2025-01-01T00:00:00Z'
	);

	CREATE TABLE content (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL
	);

	CREATE TABLE media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		path TEXT NOT NULL
	);

	CREATE TABLE comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_user_id INTEGER NOT NULL,
		body TEXT NOT NULL
	);
`

// ScenarioBindings are the bindings matching FixtureSchema
var ScenarioBindings = []domain.Binding{
	{Table: "content", Column: "user_id"},
	{Table: "media", Column: "user_id"},
}

// UsersEntity is the entity table of FixtureSchema
var UsersEntity = domain.EntityRef{Table: "users", PrimaryKey: "id"}

// TempDB creates a temporary, migrated state database for testing
func TempDB(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if _, err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// TempStore creates a temporary SQLite data store loaded with FixtureSchema
func TempStore(t *testing.T) *datastore.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "data.db")
	store, err := datastore.Open(datastore.Options{Dialect: datastore.DialectSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("Failed to open test data store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if _, err := store.Exec(FixtureSchema); err != nil {
		t.Fatalf("Failed to create fixture schema: %v", err)
	}
	return store
}

// SeedScenario inserts users 41 and 358, three content rows for 41, and
// one content row for 358. media is left empty.
func SeedScenario(t *testing.T, store *datastore.Store) {
	t.Helper()
	Exec(t, store.DB, `
		INSERT INTO users (id, email, display_name) VALUES
			(41, 'old@example.com', 'Old Account'),
			(358, 'new@example.com', 'New Account');
		INSERT INTO content (user_id, title) VALUES
			(41, 'first'), (41, 'second'), (41, 'third'), (358, 'existing');
	`)
}

// Exec runs statements and fails the test on error
func Exec(t *testing.T, database *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := database.Exec(query, args...); err != nil {
		t.Fatalf("Failed to exec %q: %v", strings.TrimSpace(query), err)
	}
}

// CountWhere counts rows of table whose column equals value
func CountWhere(t *testing.T, database *sql.DB, table, column string, value any) int64 {
	t.Helper()
	var n int64
	query := "SELECT COUNT(*) FROM " + table + " WHERE " + column + " = ?"
	if err := database.QueryRow(query, value).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s.%s: %v", table, column, err)
	}
	return n
}

// ReadFile reads content from a file
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(data)
}
