package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lherron/rebind/internal/domain"
)

// Builder renders the engine's statements for one dialect and schema.
// Names are quoted; values are always bound as parameters.
type Builder struct {
	Dialect Dialect
	Schema  string
}

func (b Builder) table(name string) string {
	return b.Dialect.QualifiedTable(b.Schema, name)
}

// CountReferences counts rows whose reference column equals $1
func (b Builder) CountReferences(binding domain.Binding) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		b.table(binding.Table), b.Dialect.QuoteIdent(binding.Column), b.Dialect.Placeholder(1))
}

// Rewrite sets the reference column to $1 on every row where it equals $2
func (b Builder) Rewrite(binding domain.Binding) string {
	col := b.Dialect.QuoteIdent(binding.Column)
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		b.table(binding.Table), col, b.Dialect.Placeholder(1), col, b.Dialect.Placeholder(2))
}

// SelectEntity fetches the full entity row by primary key
func (b Builder) SelectEntity(entity domain.EntityRef) string {
	return fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		b.table(entity.Table), b.Dialect.QuoteIdent(entity.PrimaryKey), b.Dialect.Placeholder(1))
}

// CountEntity counts entity rows with the given primary key
func (b Builder) CountEntity(entity domain.EntityRef) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		b.table(entity.Table), b.Dialect.QuoteIdent(entity.PrimaryKey), b.Dialect.Placeholder(1))
}

// DeleteEntity deletes the entity row by primary key
func (b Builder) DeleteEntity(entity domain.EntityRef) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		b.table(entity.Table), b.Dialect.QuoteIdent(entity.PrimaryKey), b.Dialect.Placeholder(1))
}

// FetchRow runs query and returns the first row as ordered columns and a
// name→value map. found is false when the query returns no rows.
func FetchRow(ctx context.Context, q Querier, query string, args ...any) (columns []string, row map[string]any, found bool, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	columns, err = rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read columns: %w", err)
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, nil, false, err
		}
		return columns, nil, false, nil
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, nil, false, fmt.Errorf("failed to scan row: %w", err)
	}

	row = make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = normalizeValue(values[i])
	}
	return columns, row, true, rows.Err()
}

// normalizeValue copies driver byte slices so values outlive the scan.
// Bytes stay bytes; text columns already arrive as strings.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return append([]byte(nil), t...)
	case sql.RawBytes:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
