// Package removal deletes an entity row only after a fresh check finds no
// remaining references and a durable backup of the row is confirmed.
package removal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lherron/rebind/internal/backup"
	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/refcount"
	"github.com/lherron/rebind/internal/registry"
	"github.com/lherron/rebind/internal/verify"
)

// Dependencies are the collaborators of a Gate
type Dependencies struct {
	Pool     datastore.Pool
	SQL      datastore.Builder
	Registry *registry.Registry
	Entity   domain.EntityRef
	Storage  backup.Storage
	Observer events.Observer
	Clock    func() time.Time
	NewRunID func() string
}

// Request identifies the entity row to remove
type Request struct {
	SourceID string
	Mode     domain.RunMode
}

// Gate runs the safety_check, backup, deleting and confirm_absence phases
type Gate struct {
	pool     datastore.Pool
	sql      datastore.Builder
	registry *registry.Registry
	entity   domain.EntityRef
	storage  backup.Storage
	counter  *refcount.Counter
	verifier *verify.Verifier
	observer events.Observer
	now      func() time.Time
	newRunID func() string
}

// NewGate wires a Gate
func NewGate(deps Dependencies) *Gate {
	g := &Gate{
		pool:     deps.Pool,
		sql:      deps.SQL,
		registry: deps.Registry,
		entity:   deps.Entity,
		storage:  deps.Storage,
		counter:  refcount.New(deps.SQL),
		observer: deps.Observer,
		now:      deps.Clock,
		newRunID: deps.NewRunID,
	}
	g.verifier = verify.New(g.counter.InPhase(string(PhaseSafetyCheck)))
	if g.observer == nil {
		g.observer = events.Nop
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newRunID == nil {
		g.newRunID = uuid.NewString
	}
	return g
}

// Remove runs the gate once. The report is never nil.
func (g *Gate) Remove(ctx context.Context, req Request) (*Report, error) {
	recorder := events.NewRecorder()
	emit := events.NewEmitter(events.Multi(g.observer, recorder)).WithClock(g.now)

	report := &Report{
		RunID:     g.newRunID(),
		SourceID:  req.SourceID,
		Entity:    g.entity,
		DryRun:    req.Mode.DryRun(),
		Phase:     PhaseIdle,
		StartedAt: g.now().UTC(),
	}
	emit.Info("removal started", "run_id", report.RunID, "source_id", req.SourceID, "mode", string(req.Mode))

	err := g.run(ctx, req, report, emit)
	if err != nil {
		report.Error = err.Error()
		report.ErrorKind = domain.KindOf(err)
		if !report.Phase.terminal() {
			report.Phase = PhaseAborted
		}
		emit.Error("removal stopped", "phase", string(report.Phase), "error", err.Error())
	}

	report.FinishedAt = g.now().UTC()
	report.Events = recorder.Events()
	return report, err
}

func (p Phase) terminal() bool {
	switch p {
	case PhaseCommitted, PhaseRolledBack, PhaseAborted, PhaseSimulated:
		return true
	}
	return false
}

func (g *Gate) run(ctx context.Context, req Request, report *Report, emit *events.Emitter) error {
	if strings.TrimSpace(req.SourceID) == "" {
		return domain.ConfigurationError("source id is required")
	}
	if g.entity.IsZero() {
		return domain.ConfigurationError("an entity table and primary key are required for removal")
	}
	if err := domain.ValidateEntityRef(g.entity); err != nil {
		return err
	}
	if g.storage == nil {
		return domain.ConfigurationError("no backup storage configured")
	}

	report.Phase = PhaseSafetyCheck
	emit.Info("phase "+string(PhaseSafetyCheck), "phase", string(PhaseSafetyCheck))
	bindings, err := g.registry.Bindings(ctx)
	if err != nil {
		return err
	}
	if err := g.safetyCheck(ctx, g.pool, bindings, req.SourceID, report, emit); err != nil {
		return err
	}

	report.Phase = PhaseBackup
	emit.Info("phase "+string(PhaseBackup), "phase", string(PhaseBackup))
	ref, err := g.backup(ctx, req.SourceID, emit)
	if err != nil {
		return err
	}
	report.BackupReference = ref

	if req.Mode.DryRun() {
		report.Phase = PhaseSimulated
		emit.Info("would delete entity row", "table", g.entity.Table, g.entity.PrimaryKey, req.SourceID)
		emit.Success("simulation complete; entity row was kept", "backup", string(ref))
		return nil
	}

	return g.delete(ctx, bindings, req.SourceID, report, emit)
}

// safetyCheck always counts afresh; a previous migration result is never
// trusted.
func (g *Gate) safetyCheck(ctx context.Context, q datastore.Querier, bindings []domain.Binding, sourceID string, report *Report, emit *events.Emitter) error {
	summary, err := g.verifier.Verify(ctx, q, bindings, sourceID, "")
	if err != nil {
		return err
	}
	report.SafetyCheck = &summary
	if !summary.Clean() {
		for _, res := range summary.Results {
			if res.SourceRemaining > 0 {
				emit.Warn("references still point at the entity", "table", res.Table, "column", res.Column, "rows", res.SourceRemaining)
			}
		}
		return domain.SafetyError(summary.TotalSourceRemaining)
	}
	emit.Success("no references remain", "bindings", len(bindings))
	return nil
}

func (g *Gate) backup(ctx context.Context, sourceID string, emit *events.Emitter) (domain.BackupReference, error) {
	columns, row, found, err := datastore.FetchRow(ctx, g.pool, g.sql.SelectEntity(g.entity), sourceID)
	if err != nil {
		return "", domain.QueryError(string(PhaseBackup), g.entity.Table, err)
	}
	if !found {
		return "", domain.NotFoundError(string(PhaseBackup), g.entity.Table, "entity %s = %s does not exist", g.entity.PrimaryKey, sourceID)
	}

	snapshot := domain.BackupSnapshot{
		EntityTable: g.entity.Table,
		PrimaryKey:  g.entity.PrimaryKey,
		EntityID:    sourceID,
		Columns:     columns,
		Row:         row,
		TakenAt:     g.now().UTC(),
	}
	ref, err := g.storage.Store(ctx, snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to store backup: %w", err)
	}
	ok, err := g.storage.Exists(ctx, ref)
	if err != nil {
		return ref, fmt.Errorf("failed to confirm backup: %w", err)
	}
	if !ok {
		return ref, domain.VerificationError(string(PhaseBackup), g.entity.Table, "backup %s could not be confirmed", ref)
	}
	emit.Success("backup stored", "backup", string(ref), "columns", len(columns))
	return ref, nil
}

func (g *Gate) delete(ctx context.Context, bindings []domain.Binding, sourceID string, report *Report, emit *events.Emitter) error {
	report.Phase = PhaseDeleting
	emit.Info("phase "+string(PhaseDeleting), "phase", string(PhaseDeleting))

	conn, err := g.pool.Conn(ctx)
	if err != nil {
		return domain.QueryError(string(PhaseDeleting), "", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueryError(string(PhaseDeleting), "", err)
	}

	rollback := func(cause error) error {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			emit.Error("rollback failed", "error", rbErr.Error())
		}
		report.Phase = PhaseRolledBack
		emit.Error("transaction rolled back; entity row was kept", "error", cause.Error())
		return cause
	}

	// Re-check inside the transaction so references written since the
	// safety check still block the delete.
	if err := g.safetyCheck(ctx, tx, bindings, sourceID, report, events.NewEmitter(events.Nop)); err != nil {
		return rollback(err)
	}

	res, err := tx.ExecContext(ctx, g.sql.DeleteEntity(g.entity), sourceID)
	if err != nil {
		return rollback(domain.QueryError(string(PhaseDeleting), g.entity.Table, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rollback(domain.QueryError(string(PhaseDeleting), g.entity.Table, err))
	}
	if n != 1 {
		return rollback(domain.VerificationError(string(PhaseDeleting), g.entity.Table, "expected to delete 1 row, deleted %d", n))
	}

	report.Phase = PhaseConfirmAbsence
	emit.Info("phase "+string(PhaseConfirmAbsence), "phase", string(PhaseConfirmAbsence))
	remaining, err := g.entityCount(ctx, tx, string(PhaseConfirmAbsence), sourceID)
	if err != nil {
		return rollback(err)
	}
	if remaining != 0 {
		return rollback(domain.VerificationError(string(PhaseConfirmAbsence), g.entity.Table, "entity row still present after delete"))
	}

	if err := tx.Commit(); err != nil {
		return rollback(domain.QueryError("commit", g.entity.Table, err))
	}
	report.Phase = PhaseCommitted
	report.Removed = true
	emit.Success("entity row deleted", "table", g.entity.Table, g.entity.PrimaryKey, sourceID)

	remaining, err = g.entityCount(ctx, g.pool, string(PhaseConfirmAbsence), sourceID)
	if err != nil {
		return err
	}
	if remaining != 0 {
		return domain.VerificationError(string(PhaseConfirmAbsence), g.entity.Table, "entity row visible after commit")
	}
	report.Verified = true
	emit.Success("absence confirmed after commit", "backup", string(report.BackupReference))
	return nil
}

func (g *Gate) entityCount(ctx context.Context, q datastore.Querier, phase, id string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, g.sql.CountEntity(g.entity), id).Scan(&n); err != nil {
		return 0, domain.QueryError(phase, g.entity.Table, err)
	}
	return n, nil
}
