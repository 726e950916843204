package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fixedClock() time.Time {
	return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestEmitterRecordsInOrder(t *testing.T) {
	rec := NewRecorder()
	emit := NewEmitter(rec).WithClock(fixedClock)

	emit.Info("counting", "table", "content")
	emit.Warn("count mismatch", "table", "content", "expected", int64(3), "actual", int64(2))
	emit.Success("committed")
	emit.Error("failed", "dangling")

	got := rec.Events()
	require.Len(t, got, 4)

	wantLevels := []Level{LevelInfo, LevelWarning, LevelSuccess, LevelError}
	for i, level := range wantLevels {
		require.Equal(t, level, got[i].Level, "event %d", i)
		require.True(t, got[i].Time.Equal(fixedClock()), "event %d: unexpected timestamp %v", i, got[i].Time)
	}

	require.Equal(t, "content", got[0].Fields["table"])
	require.Equal(t, int64(2), got[1].Fields["actual"])
	require.Nil(t, got[2].Fields)
	v, ok := got[3].Fields["dangling"]
	require.True(t, ok)
	require.Nil(t, v)
}

func TestRecorderEventsIsCopy(t *testing.T) {
	rec := NewRecorder()
	NewEmitter(rec).Info("one")

	snapshot := rec.Events()
	snapshot[0].Message = "mutated"

	require.Equal(t, "one", rec.Events()[0].Message)
}

func TestMultiSkipsNil(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	NewEmitter(Multi(a, nil, b)).Info("fan out")

	require.Equal(t, 1, a.Len())
	require.Equal(t, 1, b.Len())
}

func TestZapObserverLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	obs := NewZapObserver(zap.New(core))
	emit := NewEmitter(obs)

	emit.Info("info")
	emit.Warn("warn")
	emit.Success("done", "table", "media")
	emit.Error("bad")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, zap.ErrorLevel, entries[3].Level)
	ctx := entries[2].ContextMap()
	require.Equal(t, "success", ctx["outcome"])
	require.Equal(t, "media", ctx["table"])
}
