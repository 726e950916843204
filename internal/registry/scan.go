package registry

import (
	"context"
	"path"
	"sort"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
)

// ScanOptions controls schema-scan discovery
type ScanOptions struct {
	Schema        string
	Patterns      []string
	ExcludeTables []string
	EntityTable   string
}

// SchemaScan discovers bindings by matching column names in the catalog
// against glob patterns such as "user_id" or "*_user_id". The result is
// sorted by table then column and may differ from a hand-maintained list.
type SchemaScan struct {
	catalog datastore.Catalog
	opts    ScanOptions
}

// NewSchemaScan creates a scanning provider
func NewSchemaScan(catalog datastore.Catalog, opts ScanOptions) *SchemaScan {
	return &SchemaScan{catalog: catalog, opts: opts}
}

// ListBindings scans every table in the schema
func (s *SchemaScan) ListBindings(ctx context.Context) ([]domain.Binding, error) {
	if len(s.opts.Patterns) == 0 {
		return nil, domain.ConfigurationError("schema scan requires at least one column pattern")
	}
	for _, p := range s.opts.Patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, domain.ConfigurationError("invalid column pattern %q: %v", p, err)
		}
	}

	excluded := make(map[string]bool, len(s.opts.ExcludeTables)+1)
	for _, t := range s.opts.ExcludeTables {
		excluded[t] = true
	}
	if s.opts.EntityTable != "" {
		excluded[s.opts.EntityTable] = true
	}

	tables, err := s.catalog.Tables(ctx, s.opts.Schema)
	if err != nil {
		return nil, domain.QueryError("scan", "", err)
	}

	var out []domain.Binding
	for _, table := range tables {
		if excluded[table] {
			continue
		}
		columns, err := s.catalog.Columns(ctx, s.opts.Schema, table)
		if err != nil {
			return nil, domain.QueryError("scan", table, err)
		}
		for _, column := range columns {
			if s.matches(column) {
				out = append(out, domain.Binding{Table: table, Column: column})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out, nil
}

func (s *SchemaScan) matches(column string) bool {
	for _, p := range s.opts.Patterns {
		if ok, _ := path.Match(p, column); ok {
			return true
		}
	}
	return false
}
