package migrate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/refcount"
	"github.com/lherron/rebind/internal/registry"
	"github.com/lherron/rebind/internal/verify"
)

// Dependencies are the collaborators of a Service
type Dependencies struct {
	Pool     datastore.Pool
	Catalog  datastore.Catalog
	SQL      datastore.Builder
	Registry *registry.Registry
	Entity   domain.EntityRef
	Observer events.Observer
	Clock    func() time.Time
	NewRunID func() string
}

// Request identifies one migration run
type Request struct {
	Target domain.MigrationTarget
	Mode   domain.RunMode
}

// Service runs the executor and, after a commit, an independent
// verification pass over the pool
type Service struct {
	executor *Executor
	verifier *verify.Verifier
	pool     datastore.Pool
	observer events.Observer
	now      func() time.Time
	newRunID func() string
}

// NewService wires a Service
func NewService(deps Dependencies) *Service {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}
	observer := deps.Observer
	if observer == nil {
		observer = events.Nop
	}
	return &Service{
		executor: NewExecutor(deps.Pool, deps.Catalog, deps.SQL, deps.Registry, deps.Entity),
		verifier: verify.New(refcount.New(deps.SQL)),
		pool:     deps.Pool,
		observer: observer,
		now:      now,
		newRunID: newRunID,
	}
}

// Migrate runs one migration. The report is never nil.
func (s *Service) Migrate(ctx context.Context, req Request) (*Report, error) {
	recorder := events.NewRecorder()
	emit := events.NewEmitter(events.Multi(s.observer, recorder)).WithClock(s.now)

	report := &Report{
		RunID:     s.newRunID(),
		SourceID:  req.Target.SourceID,
		TargetID:  req.Target.TargetID,
		DryRun:    req.Mode.DryRun(),
		Phase:     PhaseIdle,
		StartedAt: s.now().UTC(),
	}
	emit.Info("migration started",
		"run_id", report.RunID, "source_id", report.SourceID, "target_id", report.TargetID, "mode", string(req.Mode))

	bindings, err := s.executor.Run(ctx, req.Target, req.Mode, report, emit)
	if err == nil && report.Phase == PhaseCommitted {
		err = s.verifyCommitted(ctx, report, emit, bindings)
	}

	report.fail(err)
	report.FinishedAt = s.now().UTC()
	report.Events = recorder.Events()
	return report, err
}

func (s *Service) verifyCommitted(ctx context.Context, report *Report, emit *events.Emitter, bindings []domain.Binding) error {
	summary, err := s.verifier.Verify(ctx, s.pool, bindings, report.SourceID, report.TargetID)
	if err != nil {
		emit.Error("post-commit verification failed", "error", err.Error())
		return err
	}
	report.VerificationResults = summary.Results
	report.TotalSourceRemaining = summary.TotalSourceRemaining

	if !summary.Clean() {
		emit.Error("references to the source remain after commit", "remaining", summary.TotalSourceRemaining)
		return domain.VerificationError("verify", "", "%d reference(s) to %s remain after commit",
			summary.TotalSourceRemaining, report.SourceID)
	}
	emit.Success("verification passed; no references to the source remain", "source_id", report.SourceID)
	return nil
}
