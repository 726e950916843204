package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/testutil"
)

func TestRunStore_CreateAndFinish(t *testing.T) {
	s := New(testutil.TempDB(t))
	ctx := context.Background()

	run, err := s.Runs.Create(ctx, CreateRunParams{Kind: RunMigrate, SourceID: "41", TargetID: "358", DryRun: false})
	require.NoError(t, err)
	require.Equal(t, "R-00001", run.FriendlyID)
	require.Equal(t, StatusRunning, run.Status)
	require.Equal(t, "idle", run.Phase)

	log := []events.Event{
		{Time: time.Now().UTC(), Level: events.LevelInfo, Message: "migration started", Fields: map[string]any{"source_id": "41"}},
		{Time: time.Now().UTC(), Level: events.LevelSuccess, Message: "migration committed"},
	}
	err = s.Runs.Finish(ctx, run.ID, FinishRunParams{
		Phase:     "committed",
		Succeeded: true,
		Report:    map[string]any{"total_migrated": 3},
		Events:    log,
	})
	require.NoError(t, err)

	got, err := s.Runs.Get("R-00001")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, "committed", got.Phase)
	require.Equal(t, "358", got.TargetID)
	require.Contains(t, string(got.Report), `"total_migrated":3`)
	require.NotEmpty(t, got.FinishedAt)

	byUUID, err := s.Runs.Get(run.UUID)
	require.NoError(t, err)
	require.Equal(t, run.ID, byUUID.ID)

	stored, err := s.Runs.Events(run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, "41", stored[0].Fields["source_id"])
	require.Equal(t, events.LevelSuccess, stored[1].Level)

	err = s.Runs.Finish(ctx, run.ID, FinishRunParams{Phase: "committed", Succeeded: true})
	require.ErrorContains(t, err, "is not running")
}

func TestRunStore_FinishRecordsFailure(t *testing.T) {
	s := New(testutil.TempDB(t))
	ctx := context.Background()

	run, err := s.Runs.Create(ctx, CreateRunParams{Kind: RunRemove, SourceID: "41", DryRun: true})
	require.NoError(t, err)

	err = s.Runs.Finish(ctx, run.ID, FinishRunParams{
		Phase:     "aborted",
		Succeeded: true,
		Err:       domain.SafetyError(3),
	})
	require.NoError(t, err)

	got, err := s.Runs.Get("1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "safety", got.ErrorKind)
	require.Contains(t, got.Error, "3 reference(s)")
	require.Empty(t, got.TargetID)
	require.True(t, got.DryRun)
}

func TestRunStore_FinishRollsBackOnBadEvent(t *testing.T) {
	s := New(testutil.TempDB(t))
	ctx := context.Background()

	run, err := s.Runs.Create(ctx, CreateRunParams{Kind: RunVerify, SourceID: "41", TargetID: "358"})
	require.NoError(t, err)

	err = s.Runs.Finish(ctx, run.ID, FinishRunParams{
		Phase:     "verified",
		Succeeded: true,
		Events:    []events.Event{{Level: events.LevelInfo, Message: "x", Fields: map[string]any{"bad": make(chan int)}}},
	})
	require.Error(t, err)

	got, err := s.Runs.Get(run.FriendlyID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
	require.Empty(t, got.FinishedAt)
}

func TestRunStore_CreateHonoursContext(t *testing.T) {
	s := New(testutil.TempDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Runs.Create(ctx, CreateRunParams{Kind: RunMigrate, SourceID: "41", TargetID: "358"})
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)

	all, err := s.Runs.List(ListRunsParams{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestRunStore_List(t *testing.T) {
	s := New(testutil.TempDB(t))

	for _, p := range []CreateRunParams{
		{Kind: RunMigrate, SourceID: "41", TargetID: "358"},
		{Kind: RunVerify, SourceID: "41", TargetID: "358"},
		{Kind: RunMigrate, SourceID: "7", TargetID: "8"},
	} {
		_, err := s.Runs.Create(context.Background(), p)
		require.NoError(t, err)
	}

	all, err := s.Runs.List(ListRunsParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "R-00003", all[0].FriendlyID)

	bySource, err := s.Runs.List(ListRunsParams{SourceID: "41", Kind: RunMigrate})
	require.NoError(t, err)
	require.Len(t, bySource, 1)

	limited, err := s.Runs.List(ListRunsParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestRunStore_Page(t *testing.T) {
	s := New(testutil.TempDB(t))

	for i := 0; i < 5; i++ {
		_, err := s.Runs.Create(context.Background(), CreateRunParams{Kind: RunMigrate, SourceID: "41", TargetID: "358"})
		require.NoError(t, err)
	}

	params := ListRunsParams{SourceID: "41", Limit: 2}
	var seen []string
	for page := 0; page < 5; page++ {
		runs, next, err := s.Runs.Page(params)
		require.NoError(t, err)
		for _, r := range runs {
			seen = append(seen, r.FriendlyID)
		}
		if next == "" {
			break
		}
		params.Cursor = next
	}
	require.Equal(t, []string{"R-00005", "R-00004", "R-00003", "R-00002", "R-00001"}, seen)

	first, next, err := s.Runs.Page(ListRunsParams{SourceID: "41", Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	_, err = s.Runs.List(ListRunsParams{SourceID: "7", Limit: 2, Cursor: next})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRunStore_GetMissing(t *testing.T) {
	s := New(testutil.TempDB(t))

	_, err := s.Runs.Get("R-00042")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Runs.Get("bogus")
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBackupStore_RoundTrip(t *testing.T) {
	s := New(testutil.TempDB(t))
	ctx := context.Background()

	snapshot := domain.BackupSnapshot{
		EntityTable: "users",
		PrimaryKey:  "id",
		EntityID:    "41",
		Columns:     []string{"id", "email", "avatar"},
		Row:         map[string]any{"id": int64(41), "email": "old@example.com", "avatar": []byte{0xff, 0x00}},
		TakenAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	ref, err := s.Backups.Store(ctx, snapshot)
	require.NoError(t, err)
	require.True(t, IsStateReference(ref), "unexpected reference %q", ref)

	ok, err := s.Backups.Exists(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := s.Backups.Load(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "old@example.com", loaded.Row["email"])
	require.Equal(t, []byte{0xff, 0x00}, loaded.Row["avatar"])

	records, err := s.Backups.List(ListBackupsParams{EntityID: "41"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, ref, records[0].Reference)

	ok, err = s.Backups.Exists(ctx, "state:00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Backups.Exists(ctx, "file:/tmp/x.json#sha256:00")
	require.Error(t, err)
}
