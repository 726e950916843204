package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/testutil"
)

func TestStaticPreservesOrder(t *testing.T) {
	bindings := []domain.Binding{
		{Table: "media", Column: "user_id"},
		{Table: "content", Column: "user_id"},
	}
	provider := NewStatic(bindings)
	bindings[0].Table = "mutated"

	got, err := provider.ListBindings(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.Binding{
		{Table: "media", Column: "user_id"},
		{Table: "content", Column: "user_id"},
	}, got)
}

func TestStaticRejectsDuplicatesAndBadNames(t *testing.T) {
	tests := []struct {
		name     string
		bindings []domain.Binding
	}{
		{name: "empty", bindings: nil},
		{name: "duplicate", bindings: []domain.Binding{{Table: "content", Column: "user_id"}, {Table: "content", Column: "user_id"}}},
		{name: "injection", bindings: []domain.Binding{{Table: "content; DROP TABLE users", Column: "user_id"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStatic(tt.bindings).ListBindings(context.Background())
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrConfiguration))
		})
	}
}

func TestValidateReportsEveryTable(t *testing.T) {
	store := testutil.TempStore(t)
	reg := New(NewStatic(testutil.ScenarioBindings), "")

	results, err := reg.Validate(context.Background(), store.Catalog())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results["content"].TableExists)
	require.True(t, results["content"].ColumnExists)
	require.Equal(t, []string{"id", "user_id", "title"}, results["content"].Columns)
	require.True(t, results["media"].ColumnExists)
}

func TestValidateListsInvalidBindings(t *testing.T) {
	store := testutil.TempStore(t)
	reg := New(NewStatic([]domain.Binding{
		{Table: "content", Column: "user_id"},
		{Table: "media", Column: "owner_id"},
		{Table: "ghosts", Column: "user_id"},
	}), "")

	results, err := reg.Validate(context.Background(), store.Catalog())
	require.Error(t, err)
	require.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	require.Contains(t, err.Error(), "media.owner_id (column missing)")
	require.Contains(t, err.Error(), "ghosts.user_id (table missing)")

	require.True(t, results["content"].ColumnExists)
	require.True(t, results["media"].TableExists)
	require.False(t, results["media"].ColumnExists)
	require.False(t, results["ghosts"].TableExists)
}

func TestValidateBindingsChecksGivenList(t *testing.T) {
	store := testutil.TempStore(t)
	reg := New(NewStatic(testutil.ScenarioBindings), "")

	results, err := reg.ValidateBindings(context.Background(), store.Catalog(), []domain.Binding{
		{Table: "comments", Column: "author_user_id"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results["comments"].ColumnExists)
}

func TestValidateDoesNotMutate(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	reg := New(NewStatic(testutil.ScenarioBindings), "")

	_, err := reg.Validate(context.Background(), store.Catalog())
	require.NoError(t, err)
	require.Equal(t, int64(3), testutil.CountWhere(t, store.DB, "content", "user_id", 41))
}

func TestSchemaScan(t *testing.T) {
	store := testutil.TempStore(t)

	scan := NewSchemaScan(store.Catalog(), ScanOptions{
		Patterns:    []string{"user_id", "*_user_id"},
		EntityTable: "users",
	})
	got, err := scan.ListBindings(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.Binding{
		{Table: "comments", Column: "author_user_id"},
		{Table: "content", Column: "user_id"},
		{Table: "media", Column: "user_id"},
	}, got)

	scan = NewSchemaScan(store.Catalog(), ScanOptions{
		Patterns:      []string{"user_id", "*_user_id"},
		ExcludeTables: []string{"comments"},
		EntityTable:   "users",
	})
	got, err = scan.ListBindings(context.Background())
	require.NoError(t, err)
	require.Equal(t, testutil.ScenarioBindings, got)
}

func TestSchemaScanRejectsBadPatterns(t *testing.T) {
	store := testutil.TempStore(t)

	_, err := NewSchemaScan(store.Catalog(), ScanOptions{}).ListBindings(context.Background())
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewSchemaScan(store.Catalog(), ScanOptions{Patterns: []string{"[user"}}).ListBindings(context.Background())
	require.ErrorIs(t, err, domain.ErrConfiguration)
}
