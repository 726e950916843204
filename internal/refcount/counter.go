// Package refcount counts rows that reference an identifier through one
// binding.
package refcount

import (
	"context"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
)

// Counter issues one SELECT COUNT(*) per call. Nothing is cached, so a
// Counter handed an open transaction sees that transaction's writes.
type Counter struct {
	sql   datastore.Builder
	phase string
}

// New creates a counter for the given dialect and schema
func New(builder datastore.Builder) *Counter {
	return &Counter{sql: builder, phase: "count"}
}

// InPhase returns a copy of the counter that tags errors with phase
func (c *Counter) InPhase(phase string) *Counter {
	cp := *c
	cp.phase = phase
	return &cp
}

// Count returns how many rows of binding.Table hold identifier in
// binding.Column
func (c *Counter) Count(ctx context.Context, q datastore.Querier, binding domain.Binding, identifier string) (int64, error) {
	if err := domain.ValidateBinding(binding); err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRowContext(ctx, c.sql.CountReferences(binding), identifier).Scan(&n); err != nil {
		return 0, domain.QueryError(c.phase, binding.Table, err)
	}
	return n, nil
}
