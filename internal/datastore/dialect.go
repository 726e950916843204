package datastore

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Dialect names a supported SQL flavour
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Validate rejects unknown dialects
func (d Dialect) Validate() error {
	switch d {
	case DialectSQLite, DialectPostgres:
		return nil
	default:
		return fmt.Errorf("unsupported database dialect: %q (must be one of: sqlite, postgres)", d)
	}
}

// DriverName returns the database/sql driver registered for the dialect
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// Placeholder returns the parameter placeholder for position (1-based)
func (d Dialect) Placeholder(position int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", position)
	}
	return "?"
}

// QuoteIdent quotes a table or column name
func (d Dialect) QuoteIdent(name string) string {
	if d == DialectPostgres {
		return pq.QuoteIdentifier(name)
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DefaultSchema is the schema used when none is configured
func (d Dialect) DefaultSchema() string {
	if d == DialectPostgres {
		return "public"
	}
	return "main"
}

// QualifiedTable returns the quoted, optionally schema-qualified table name
func (d Dialect) QualifiedTable(schema, table string) string {
	if schema == "" || (d == DialectSQLite && schema == "main") {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}
