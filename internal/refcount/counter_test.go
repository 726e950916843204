package refcount

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/testutil"
)

func TestCountScenario(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	counter := New(store.SQL())
	ctx := context.Background()

	n, err := counter.Count(ctx, store, testutil.ScenarioBindings[0], "41")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = counter.Count(ctx, store, testutil.ScenarioBindings[0], "358")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = counter.Count(ctx, store, testutil.ScenarioBindings[1], "41")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCountSeesTransactionState(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	counter := New(store.SQL())
	ctx := context.Background()

	tx, err := store.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, store.SQL().Rewrite(testutil.ScenarioBindings[0]), "358", "41")
	require.NoError(t, err)

	n, err := counter.Count(ctx, tx, testutil.ScenarioBindings[0], "41")
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = counter.Count(ctx, tx, testutil.ScenarioBindings[0], "358")
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func TestCountMissingTableIsQueryError(t *testing.T) {
	store := testutil.TempStore(t)
	counter := New(store.SQL())

	_, err := counter.Count(context.Background(), store, domain.Binding{Table: "ghosts", Column: "user_id"}, "41")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrQuery))

	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "count", derr.Phase)
	require.Equal(t, "ghosts", derr.Table)
	require.NotNil(t, derr.Err)

	_, err = counter.InPhase("safety_check").Count(context.Background(), store, domain.Binding{Table: "ghosts", Column: "user_id"}, "41")
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "safety_check", derr.Phase)
}
