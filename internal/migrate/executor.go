// Package migrate rewrites every reference to a source identifier into a
// target identifier inside a single transaction, then verifies that none
// remain.
package migrate

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/refcount"
	"github.com/lherron/rebind/internal/registry"
)

// Executor drives the validating, counting and migrating phases
type Executor struct {
	pool     datastore.Pool
	catalog  datastore.Catalog
	sql      datastore.Builder
	registry *registry.Registry
	counter  *refcount.Counter
	entity   domain.EntityRef
}

// NewExecutor creates an executor. A zero entity skips the entity
// existence check.
func NewExecutor(pool datastore.Pool, catalog datastore.Catalog, builder datastore.Builder, reg *registry.Registry, entity domain.EntityRef) *Executor {
	return &Executor{
		pool:     pool,
		catalog:  catalog,
		sql:      builder,
		registry: reg,
		counter:  refcount.New(builder),
		entity:   entity,
	}
}

type run struct {
	report   *Report
	emit     *events.Emitter
	target   domain.MigrationTarget
	mode     domain.RunMode
	bindings []domain.Binding
}

func (r *run) enter(phase Phase) {
	r.report.Phase = phase
	r.emit.Info("phase "+string(phase), "phase", string(phase))
}

// Run executes one migration, recording progress into report. The
// bindings actually used are returned for the verification pass.
func (e *Executor) Run(ctx context.Context, target domain.MigrationTarget, mode domain.RunMode, report *Report, emit *events.Emitter) ([]domain.Binding, error) {
	r := &run{report: report, emit: emit, target: target, mode: mode}
	report.Phase = PhaseIdle

	if err := e.validate(ctx, r); err != nil {
		report.Phase = PhaseAborted
		emit.Error("migration aborted during validation", "error", err.Error())
		return r.bindings, err
	}

	active, err := e.count(ctx, r)
	if err != nil {
		report.Phase = PhaseAborted
		emit.Error("migration aborted during counting", "error", err.Error())
		return r.bindings, err
	}

	if mode.DryRun() {
		report.Phase = PhaseSimulated
		emit.Success("simulation complete; no changes were made",
			"would_migrate", report.TotalSourceRemaining)
		return r.bindings, nil
	}

	if err := e.migrate(ctx, r, active); err != nil {
		return r.bindings, err
	}
	return r.bindings, nil
}

func (e *Executor) validate(ctx context.Context, r *run) error {
	r.enter(PhaseValidating)

	if err := domain.ValidateTarget(r.target); err != nil {
		return err
	}

	bindings, err := e.registry.Bindings(ctx)
	if err != nil {
		return err
	}
	r.bindings = bindings

	if _, err := e.registry.ValidateBindings(ctx, e.catalog, bindings); err != nil {
		return err
	}
	r.emit.Info("bindings validated", "bindings", len(bindings))

	if e.entity.IsZero() {
		return nil
	}
	if err := domain.ValidateEntityRef(e.entity); err != nil {
		return err
	}
	for _, id := range []string{r.target.SourceID, r.target.TargetID} {
		var n int64
		if err := e.pool.QueryRowContext(ctx, e.sql.CountEntity(e.entity), id).Scan(&n); err != nil {
			return domain.QueryError(string(PhaseValidating), e.entity.Table, err)
		}
		if n == 0 {
			return domain.NotFoundError(string(PhaseValidating), e.entity.Table, "entity %s = %s does not exist", e.entity.PrimaryKey, id)
		}
	}
	r.emit.Info("source and target entities exist", "entity", e.entity.Table)
	return nil
}

// count fills one PerTableResult per binding and returns the bindings
// that have rows to rewrite
func (e *Executor) count(ctx context.Context, r *run) ([]domain.Binding, error) {
	r.enter(PhaseCounting)

	var active []domain.Binding
	r.report.PerTableResults = make([]domain.PerTableResult, 0, len(r.bindings))
	r.report.TotalSourceRemaining = 0

	for _, b := range r.bindings {
		pre, err := e.counter.Count(ctx, e.pool, b, r.target.SourceID)
		if err != nil {
			return nil, err
		}
		conflict, err := e.counter.Count(ctx, e.pool, b, r.target.TargetID)
		if err != nil {
			return nil, err
		}

		result := domain.PerTableResult{
			Table:         b.Table,
			Column:        b.Column,
			PreCount:      pre,
			ConflictCount: conflict,
			Skipped:       pre == 0,
		}
		if r.mode.DryRun() {
			result.SkippedCount = pre
			result.Skipped = true
		}
		r.report.PerTableResults = append(r.report.PerTableResults, result)
		r.report.TotalSourceRemaining += pre

		switch {
		case pre == 0:
			r.emit.Info("no references found; skipping", "table", b.Table, "column", b.Column)
		case r.mode.DryRun():
			r.emit.Info("would migrate references", "table", b.Table, "column", b.Column, "rows", pre, "already_target", conflict)
			active = append(active, b)
		default:
			r.emit.Info("references found", "table", b.Table, "column", b.Column, "rows", pre, "already_target", conflict)
			active = append(active, b)
		}
	}
	return active, nil
}

func (e *Executor) migrate(ctx context.Context, r *run, active []domain.Binding) error {
	r.enter(PhaseMigrating)

	conn, err := e.pool.Conn(ctx)
	if err != nil {
		r.report.Phase = PhaseAborted
		return domain.QueryError(string(PhaseMigrating), "", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		r.report.Phase = PhaseAborted
		return domain.QueryError(string(PhaseMigrating), "", err)
	}

	rollback := func(cause error) error {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.emit.Error("rollback failed", "error", rbErr.Error())
		}
		r.report.Phase = PhaseRolledBack
		r.report.TotalMigrated = 0
		for i := range r.report.PerTableResults {
			r.report.PerTableResults[i].MigratedCount = 0
		}
		r.emit.Error("transaction rolled back; no rows were changed", "error", cause.Error())
		return cause
	}

	for _, b := range active {
		res, err := tx.ExecContext(ctx, e.sql.Rewrite(b), r.target.TargetID, r.target.SourceID)
		if err != nil {
			return rollback(domain.QueryError(string(PhaseMigrating), b.Table, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return rollback(domain.QueryError(string(PhaseMigrating), b.Table, err))
		}

		result := r.result(b)
		result.MigratedCount = n
		r.report.TotalMigrated += n
		if n != result.PreCount {
			r.emit.Warn("rewritten row count differs from pre-count",
				"table", b.Table, "column", b.Column, "pre_count", result.PreCount, "migrated", n)
		}
		r.emit.Info("references rewritten", "table", b.Table, "column", b.Column, "rows", n)
	}

	// Commit-time accounting: nothing bound to the source may survive
	// inside the transaction, including bindings skipped during counting.
	counter := e.counter.InPhase(string(PhaseMigrating))
	for _, b := range r.bindings {
		remaining, err := counter.Count(ctx, tx, b, r.target.SourceID)
		if err != nil {
			return rollback(err)
		}
		if remaining != 0 {
			return rollback(domain.VerificationError(string(PhaseMigrating), b.Table,
				"%d reference(s) to %s remain before commit", remaining, r.target.SourceID))
		}
	}

	if err := tx.Commit(); err != nil {
		return rollback(domain.QueryError("commit", "", err))
	}

	r.report.Phase = PhaseCommitted
	r.emit.Success("migration committed", "migrated", r.report.TotalMigrated)
	return nil
}

func (r *run) result(b domain.Binding) *domain.PerTableResult {
	for i := range r.report.PerTableResults {
		res := &r.report.PerTableResults[i]
		if res.Table == b.Table && res.Column == b.Column {
			return res
		}
	}
	r.report.PerTableResults = append(r.report.PerTableResults, domain.PerTableResult{Table: b.Table, Column: b.Column})
	return &r.report.PerTableResults[len(r.report.PerTableResults)-1]
}
