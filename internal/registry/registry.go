// Package registry supplies the set of table.column bindings an entity
// identifier may appear in, and checks them against the live schema.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
)

// Provider lists bindings in the order the engine should process them
type Provider interface {
	ListBindings(ctx context.Context) ([]domain.Binding, error)
}

// Static returns a fixed, configured list of bindings
type Static struct {
	bindings []domain.Binding
}

// NewStatic copies bindings into a static provider
func NewStatic(bindings []domain.Binding) *Static {
	list := make([]domain.Binding, len(bindings))
	copy(list, bindings)
	return &Static{bindings: list}
}

// ListBindings returns the configured bindings in configured order
func (s *Static) ListBindings(ctx context.Context) ([]domain.Binding, error) {
	if err := domain.ValidateBindings(s.bindings); err != nil {
		return nil, err
	}
	out := make([]domain.Binding, len(s.bindings))
	copy(out, s.bindings)
	return out, nil
}

// TableValidation is the catalog's view of one bound table
type TableValidation struct {
	TableExists  bool     `json:"table_exists"`
	ColumnExists bool     `json:"column_exists"`
	Columns      []string `json:"columns,omitempty"`
}

// Registry pairs a provider with the schema its bindings live in
type Registry struct {
	provider Provider
	schema   string
}

// New creates a registry
func New(provider Provider, schema string) *Registry {
	return &Registry{provider: provider, schema: schema}
}

// Bindings lists the provider's bindings
func (r *Registry) Bindings(ctx context.Context) ([]domain.Binding, error) {
	bindings, err := r.provider.ListBindings(ctx)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateBindings(bindings); err != nil {
		return nil, err
	}
	return bindings, nil
}

// Validate lists the provider's bindings and checks them with ValidateBindings
func (r *Registry) Validate(ctx context.Context, catalog datastore.Catalog) (map[string]TableValidation, error) {
	bindings, err := r.Bindings(ctx)
	if err != nil {
		return nil, err
	}
	return r.ValidateBindings(ctx, catalog, bindings)
}

// ValidateBindings asks the catalog whether every bound table and column
// exists. The mapping is keyed by table; a table bound through several
// columns reports ColumnExists false if any of them is missing. The
// returned error lists every invalid binding.
func (r *Registry) ValidateBindings(ctx context.Context, catalog datastore.Catalog, bindings []domain.Binding) (map[string]TableValidation, error) {
	results := make(map[string]TableValidation, len(bindings))
	var invalid []string

	for _, b := range bindings {
		v, seen := results[b.Table]
		if !seen {
			exists, err := catalog.TableExists(ctx, r.schema, b.Table)
			if err != nil {
				return results, domain.QueryError("validating", b.Table, err)
			}
			v = TableValidation{TableExists: exists, ColumnExists: true}
			if exists {
				columns, err := catalog.Columns(ctx, r.schema, b.Table)
				if err != nil {
					return results, domain.QueryError("validating", b.Table, err)
				}
				v.Columns = columns
			}
		}

		if !v.TableExists {
			v.ColumnExists = false
			invalid = append(invalid, fmt.Sprintf("%s (table missing)", b))
			results[b.Table] = v
			continue
		}

		exists, err := catalog.ColumnExists(ctx, r.schema, b.Table, b.Column)
		if err != nil {
			return results, domain.QueryError("validating", b.Table, err)
		}
		if !exists {
			v.ColumnExists = false
			invalid = append(invalid, fmt.Sprintf("%s (column missing)", b))
		}
		results[b.Table] = v
	}

	if len(invalid) > 0 {
		return results, domain.ConfigurationError("invalid bindings: %s", strings.Join(invalid, ", "))
	}
	return results, nil
}
