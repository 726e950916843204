package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/registry"
	"github.com/lherron/rebind/internal/testutil"
)

var scenarioTarget = domain.MigrationTarget{SourceID: "41", TargetID: "358"}

func newTestService(store *datastore.Store, bindings []domain.Binding, observer events.Observer) *Service {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewService(Dependencies{
		Pool:     store,
		Catalog:  store.Catalog(),
		SQL:      store.SQL(),
		Registry: registry.New(registry.NewStatic(bindings), store.Schema()),
		Entity:   testutil.UsersEntity,
		Observer: observer,
		Clock:    func() time.Time { return fixed },
		NewRunID: func() string { return "run-1" },
	})
}

func TestMigrateScenario(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	recorder := events.NewRecorder()
	svc := newTestService(store, testutil.ScenarioBindings, recorder)

	report, err := svc.Migrate(context.Background(), Request{Target: scenarioTarget, Mode: domain.ModeExecute})
	require.NoError(t, err)
	require.True(t, report.Succeeded())
	require.Equal(t, PhaseCommitted, report.Phase)
	require.Equal(t, "run-1", report.RunID)
	require.False(t, report.DryRun)
	require.Equal(t, int64(3), report.TotalMigrated)
	require.Zero(t, report.TotalSourceRemaining)

	require.Equal(t, []domain.PerTableResult{
		{Table: "content", Column: "user_id", PreCount: 3, MigratedCount: 3, ConflictCount: 1},
		{Table: "media", Column: "user_id", Skipped: true},
	}, report.PerTableResults)
	require.Equal(t, []domain.VerificationResult{
		{Table: "content", Column: "user_id", SourceRemaining: 0, TargetTotal: 4},
		{Table: "media", Column: "user_id", SourceRemaining: 0, TargetTotal: 0},
	}, report.VerificationResults)

	require.Zero(t, testutil.CountWhere(t, store.DB, "content", "user_id", 41))
	require.Equal(t, int64(4), testutil.CountWhere(t, store.DB, "content", "user_id", 358))

	require.NotEmpty(t, report.Events)
	require.Equal(t, recorder.Len(), len(report.Events))
	last := report.Events[len(report.Events)-1]
	require.Equal(t, events.LevelSuccess, last.Level)
}

func TestMigrateSimulateChangesNothing(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	svc := newTestService(store, testutil.ScenarioBindings, nil)

	report, err := svc.Migrate(context.Background(), Request{Target: scenarioTarget, Mode: domain.ModeSimulate})
	require.NoError(t, err)
	require.Equal(t, PhaseSimulated, report.Phase)
	require.True(t, report.DryRun)
	require.Zero(t, report.TotalMigrated)
	require.Equal(t, int64(3), report.TotalSourceRemaining)
	require.Equal(t, domain.PerTableResult{
		Table: "content", Column: "user_id", PreCount: 3, SkippedCount: 3, ConflictCount: 1, Skipped: true,
	}, report.PerTableResults[0])
	require.Empty(t, report.VerificationResults)

	require.Equal(t, int64(3), testutil.CountWhere(t, store.DB, "content", "user_id", 41))
	require.Equal(t, int64(1), testutil.CountWhere(t, store.DB, "content", "user_id", 358))
}

func TestMigrateRollsBackOnStatementFailure(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	testutil.Exec(t, store.DB, `INSERT INTO media (user_id, path) VALUES (41, 'avatar.png')`)
	testutil.Exec(t, store.DB, `
		CREATE TRIGGER media_read_only BEFORE UPDATE ON media
		BEGIN
			SELECT RAISE(ABORT, 'media is read-only');
		END
	`)
	svc := newTestService(store, testutil.ScenarioBindings, nil)

	report, err := svc.Migrate(context.Background(), Request{Target: scenarioTarget, Mode: domain.ModeExecute})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrQuery)
	require.Equal(t, PhaseRolledBack, report.Phase)
	require.Equal(t, domain.KindQuery, report.ErrorKind)
	require.Zero(t, report.TotalMigrated)

	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "media", derr.Table)

	var driverErr sqlite3.Error
	require.True(t, errors.As(err, &driverErr), "driver error should be reachable")

	require.Equal(t, int64(3), testutil.CountWhere(t, store.DB, "content", "user_id", 41))
	require.Equal(t, int64(1), testutil.CountWhere(t, store.DB, "media", "user_id", 41))
}

func TestMigrateRollsBackWhenReferencesSurviveInTransaction(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	testutil.Exec(t, store.DB, `
		CREATE TRIGGER content_echo AFTER UPDATE OF user_id ON content
		WHEN OLD.user_id = 41 AND NEW.title = 'first'
		BEGIN
			INSERT INTO media (user_id, path) VALUES (41, 'echo.png');
		END
	`)
	svc := newTestService(store, testutil.ScenarioBindings, nil)

	report, err := svc.Migrate(context.Background(), Request{Target: scenarioTarget, Mode: domain.ModeExecute})
	require.ErrorIs(t, err, domain.ErrVerification)
	require.Equal(t, PhaseRolledBack, report.Phase)

	require.Equal(t, int64(3), testutil.CountWhere(t, store.DB, "content", "user_id", 41))
	require.Zero(t, testutil.CountWhere(t, store.DB, "media", "user_id", 41))
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	svc := newTestService(store, testutil.ScenarioBindings, nil)
	ctx := context.Background()

	_, err := svc.Migrate(ctx, Request{Target: scenarioTarget, Mode: domain.ModeExecute})
	require.NoError(t, err)

	report, err := svc.Migrate(ctx, Request{Target: scenarioTarget, Mode: domain.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, PhaseCommitted, report.Phase)
	require.Zero(t, report.TotalMigrated)
	for _, res := range report.PerTableResults {
		require.True(t, res.Skipped, "%s should be skipped", res.Table)
	}
	require.Equal(t, int64(4), testutil.CountWhere(t, store.DB, "content", "user_id", 358))
}

func TestMigrateAbortsWithoutTransaction(t *testing.T) {
	tests := []struct {
		name     string
		target   domain.MigrationTarget
		bindings []domain.Binding
		kind     domain.Kind
	}{
		{
			name:     "identical ids",
			target:   domain.MigrationTarget{SourceID: "41", TargetID: "41"},
			bindings: testutil.ScenarioBindings,
			kind:     domain.KindConfiguration,
		},
		{
			name:     "empty target",
			target:   domain.MigrationTarget{SourceID: "41"},
			bindings: testutil.ScenarioBindings,
			kind:     domain.KindConfiguration,
		},
		{
			name:     "missing column",
			target:   scenarioTarget,
			bindings: []domain.Binding{{Table: "content", Column: "user_id"}, {Table: "media", Column: "owner_id"}},
			kind:     domain.KindConfiguration,
		},
		{
			name:     "missing target entity",
			target:   domain.MigrationTarget{SourceID: "41", TargetID: "999"},
			bindings: testutil.ScenarioBindings,
			kind:     domain.KindNotFound,
		},
		{
			name:     "missing source entity",
			target:   domain.MigrationTarget{SourceID: "7", TargetID: "358"},
			bindings: testutil.ScenarioBindings,
			kind:     domain.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.TempStore(t)
			testutil.SeedScenario(t, store)
			svc := newTestService(store, tt.bindings, nil)

			report, err := svc.Migrate(context.Background(), Request{Target: tt.target, Mode: domain.ModeExecute})
			require.Error(t, err)
			require.NotNil(t, report)
			require.Equal(t, tt.kind, domain.KindOf(err))
			require.Equal(t, PhaseAborted, report.Phase)
			require.Equal(t, tt.kind, report.ErrorKind)
			require.NotEmpty(t, report.Error)
			require.Equal(t, int64(3), testutil.CountWhere(t, store.DB, "content", "user_id", 41))
		})
	}
}

func TestMigrateHonoursCancelledContext(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	svc := newTestService(store, testutil.ScenarioBindings, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Migrate(ctx, Request{Target: scenarioTarget, Mode: domain.ModeExecute})
	require.Error(t, err)
	require.False(t, report.Succeeded())
	require.Equal(t, int64(3), testutil.CountWhere(t, store.DB, "content", "user_id", 41))
}

type countingProvider struct {
	registry.Provider
	calls int
}

func (c *countingProvider) ListBindings(ctx context.Context) ([]domain.Binding, error) {
	c.calls++
	return c.Provider.ListBindings(ctx)
}

func TestMigrateListsBindingsOnce(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	provider := &countingProvider{Provider: registry.NewSchemaScan(store.Catalog(), registry.ScanOptions{
		Patterns:    []string{"*user_id"},
		EntityTable: testutil.UsersEntity.Table,
	})}
	svc := NewService(Dependencies{
		Pool:     store,
		Catalog:  store.Catalog(),
		SQL:      store.SQL(),
		Registry: registry.New(provider, store.Schema()),
		Entity:   testutil.UsersEntity,
	})

	report, err := svc.Migrate(context.Background(), Request{Target: scenarioTarget, Mode: domain.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)
	require.Len(t, report.PerTableResults, 3)
}

func TestPhaseTerminal(t *testing.T) {
	require.True(t, PhaseCommitted.Terminal())
	require.True(t, PhaseSimulated.Terminal())
	require.False(t, PhaseMigrating.Terminal())
	require.False(t, PhaseIdle.Terminal())
}
