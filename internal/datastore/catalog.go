package datastore

import (
	"context"
	"fmt"
)

// Catalog answers schema metadata questions. It never mutates data.
type Catalog interface {
	TableExists(ctx context.Context, schema, table string) (bool, error)
	ColumnExists(ctx context.Context, schema, table, column string) (bool, error)
	Tables(ctx context.Context, schema string) ([]string, error)
	Columns(ctx context.Context, schema, table string) ([]string, error)
}

// NewCatalog returns the catalog implementation for d
func NewCatalog(d Dialect, q Querier) Catalog {
	if d == DialectPostgres {
		return &postgresCatalog{q: q}
	}
	return &sqliteCatalog{q: q}
}

type sqliteCatalog struct {
	q Querier
}

func sqliteSchema(schema string) string {
	if schema == "" {
		return "main"
	}
	return schema
}

func (c *sqliteCatalog) master(schema string) string {
	return DialectSQLite.QuoteIdent(sqliteSchema(schema)) + ".sqlite_master"
}

func (c *sqliteCatalog) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE type = 'table' AND name = ?", c.master(schema))
	if err := c.q.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

func (c *sqliteCatalog) ColumnExists(ctx context.Context, schema, table, column string) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?, ?) WHERE name = ?",
		table, sqliteSchema(schema), column,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

func (c *sqliteCatalog) Tables(ctx context.Context, schema string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT name
		FROM %s
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%%'
		ORDER BY name
	`, c.master(schema))
	return queryStrings(ctx, c.q, query)
}

func (c *sqliteCatalog) Columns(ctx context.Context, schema, table string) ([]string, error) {
	return queryStrings(ctx, c.q,
		"SELECT name FROM pragma_table_info(?, ?) ORDER BY cid",
		table, sqliteSchema(schema))
}

type postgresCatalog struct {
	q Querier
}

func (c *postgresCatalog) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		AND table_name = $2
		AND table_type = 'BASE TABLE'
	`, schema, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

func (c *postgresCatalog) ColumnExists(ctx context.Context, schema, table, column string) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		AND table_name = $2
		AND column_name = $3
	`, schema, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

func (c *postgresCatalog) Tables(ctx context.Context, schema string) ([]string, error) {
	return queryStrings(ctx, c.q, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, schema)
}

func (c *postgresCatalog) Columns(ctx context.Context, schema, table string) ([]string, error) {
	return queryStrings(ctx, c.q, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
}

func queryStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog rows: %w", err)
	}
	return out, nil
}
