// Package verify checks that no references to a source identifier remain
// after a migration.
package verify

import (
	"context"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/refcount"
)

// Summary aggregates per-binding verification counts
type Summary struct {
	Results              []domain.VerificationResult `json:"results"`
	TotalSourceRemaining int64                       `json:"total_source_remaining"`
}

// Clean reports whether no source references remain
func (s Summary) Clean() bool {
	return s.TotalSourceRemaining == 0
}

// Verifier counts remaining references. It never writes.
type Verifier struct {
	counter *refcount.Counter
}

// New creates a verifier that counts with counter
func New(counter *refcount.Counter) *Verifier {
	return &Verifier{counter: counter}
}

// Verify counts sourceID (and targetID, when non-empty) in every binding.
// Results are in binding order.
func (v *Verifier) Verify(ctx context.Context, q datastore.Querier, bindings []domain.Binding, sourceID, targetID string) (Summary, error) {
	counter := v.counter.InPhase("verify")
	summary := Summary{Results: make([]domain.VerificationResult, 0, len(bindings))}

	for _, b := range bindings {
		remaining, err := counter.Count(ctx, q, b, sourceID)
		if err != nil {
			return summary, err
		}
		result := domain.VerificationResult{Table: b.Table, Column: b.Column, SourceRemaining: remaining}
		if targetID != "" {
			total, err := counter.Count(ctx, q, b, targetID)
			if err != nil {
				return summary, err
			}
			result.TargetTotal = total
		}
		summary.Results = append(summary.Results, result)
		summary.TotalSourceRemaining += remaining
	}
	return summary, nil
}
