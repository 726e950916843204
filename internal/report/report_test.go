package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/migrate"
	"github.com/lherron/rebind/internal/removal"
	"github.com/lherron/rebind/internal/render"
	"github.com/lherron/rebind/internal/verify"
)

func simulatedReport() *migrate.Report {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &migrate.Report{
		RunID:    "run-1",
		SourceID: "41",
		TargetID: "358",
		DryRun:   true,
		Phase:    migrate.PhaseSimulated,
		PerTableResults: []domain.PerTableResult{
			{Table: "content", Column: "user_id", PreCount: 3, SkippedCount: 3, ConflictCount: 1, Skipped: true},
			{Table: "media", Column: "user_id", Skipped: true},
		},
		TotalSourceRemaining: 3,
		StartedAt:            start,
		FinishedAt:           start.Add(12 * time.Millisecond),
	}
}

func TestWriteMigrationTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMigration(&buf, render.Options{}, simulatedReport()))

	out := buf.String()
	require.Contains(t, out, "phase:")
	require.Contains(t, out, "simulated")
	require.Contains(t, out, "mode:")
	require.Contains(t, out, "12ms")
	require.Contains(t, out, "would migrate")
	require.Contains(t, out, "skipped")
}

func TestWriteMigrationJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMigration(&buf, render.Options{Format: render.FormatJSON}, simulatedReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "simulated", decoded["phase"])
	require.Equal(t, true, decoded["dry_run"])
	require.Len(t, decoded["per_table_results"], 2)
}

func TestWriteRemovalShowsBlockingReferences(t *testing.T) {
	rep := &removal.Report{
		RunID:    "run-2",
		SourceID: "41",
		Entity:   domain.EntityRef{Table: "users", PrimaryKey: "id"},
		Phase:    removal.PhaseAborted,
		SafetyCheck: &verify.Summary{
			Results:              []domain.VerificationResult{{Table: "content", Column: "user_id", SourceRemaining: 3}},
			TotalSourceRemaining: 3,
		},
		Error: "safety [safety_check]: 3 reference(s) to the source identifier remain",
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRemoval(&buf, render.Options{}, rep))
	require.Contains(t, buf.String(), "users.id = 41")
	require.Contains(t, buf.String(), "SOURCE_REMAINING")
	require.Contains(t, buf.String(), "error:")
}

func TestWriteVerify(t *testing.T) {
	res := VerifyResult{
		SourceID: "41",
		Clean:    true,
		Summary:  verify.Summary{Results: []domain.VerificationResult{{Table: "content", Column: "user_id"}}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteVerify(&buf, render.Options{}, res))
	require.Contains(t, buf.String(), "clean")

	buf.Reset()
	require.NoError(t, WriteVerify(&buf, render.Options{Format: render.FormatTSV}, res))
	require.True(t, strings.HasPrefix(buf.String(), "TABLE\tCOLUMN"))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	require.NoError(t, WriteFile(path, simulatedReport()))
	require.NoError(t, WriteFile(path, simulatedReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"run_id": "run-1"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPlanDiff(t *testing.T) {
	diff, err := PlanDiff(simulatedReport())
	require.NoError(t, err)
	require.Contains(t, diff, "--- current")
	require.Contains(t, diff, "+++ after-migrate")
	require.Contains(t, diff, "-content.user_id = 41: 3")
	require.Contains(t, diff, "+content.user_id = 41: 0")
	require.Contains(t, diff, "+content.user_id = 358: 4")
	require.NotContains(t, diff, "-media.user_id")
}
