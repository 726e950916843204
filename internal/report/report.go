// Package report renders migration, verification and removal reports for
// humans and machines, and writes them to report files.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/migrate"
	"github.com/lherron/rebind/internal/removal"
	"github.com/lherron/rebind/internal/render"
	"github.com/lherron/rebind/internal/verify"
)

// PerTable returns the per-binding results of a migration as a table
func PerTable(results []domain.PerTableResult, dryRun bool) render.Table {
	t := render.Table{Headers: []string{"TABLE", "COLUMN", "PRE", "MIGRATED", "SKIPPED", "CONFLICT", "STATUS"}}
	for _, r := range results {
		status := "migrated"
		switch {
		case dryRun && r.PreCount > 0:
			status = "would migrate"
		case r.Skipped:
			status = "skipped"
		}
		t.Rows = append(t.Rows, []string{
			r.Table, r.Column, itoa(r.PreCount), itoa(r.MigratedCount), itoa(r.SkippedCount), itoa(r.ConflictCount), status,
		})
	}
	return t
}

// Verification returns verification counts as a table
func Verification(results []domain.VerificationResult) render.Table {
	t := render.Table{Headers: []string{"TABLE", "COLUMN", "SOURCE_REMAINING", "TARGET_TOTAL"}}
	for _, r := range results {
		t.Rows = append(t.Rows, []string{r.Table, r.Column, itoa(r.SourceRemaining), itoa(r.TargetTotal)})
	}
	return t
}

// WriteMigration renders a migration report
func WriteMigration(w io.Writer, opts render.Options, rep *migrate.Report) error {
	r := render.NewRenderer(w, opts)
	if opts.Format != render.FormatTable && opts.Format != "" {
		if opts.Format == render.FormatTSV {
			return r.RenderTSV(PerTable(rep.PerTableResults, rep.DryRun))
		}
		return r.Render(rep)
	}

	pairs := [][2]string{
		{"run", rep.RunID},
		{"source", rep.SourceID},
		{"target", rep.TargetID},
		{"mode", modeName(rep.DryRun)},
		{"phase", string(rep.Phase)},
		{"migrated", itoa(rep.TotalMigrated)},
		{"remaining", itoa(rep.TotalSourceRemaining)},
		{"duration", duration(rep.StartedAt, rep.FinishedAt)},
	}
	if rep.Error != "" {
		pairs = append(pairs, [2]string{"error", rep.Error})
	}
	if err := r.RenderKV(pairs); err != nil {
		return err
	}
	if len(rep.PerTableResults) > 0 {
		fmt.Fprintln(w)
		if err := r.RenderTable(PerTable(rep.PerTableResults, rep.DryRun)); err != nil {
			return err
		}
	}
	if len(rep.VerificationResults) > 0 {
		fmt.Fprintln(w)
		return r.RenderTable(Verification(rep.VerificationResults))
	}
	return nil
}

// VerifyResult is the outcome of a standalone verification
type VerifyResult struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id,omitempty"`
	Clean    bool           `json:"clean"`
	Summary  verify.Summary `json:"summary"`
}

// Table implements render.Tabular
func (v VerifyResult) Table() render.Table {
	return Verification(v.Summary.Results)
}

// WriteVerify renders a standalone verification
func WriteVerify(w io.Writer, opts render.Options, res VerifyResult) error {
	r := render.NewRenderer(w, opts)
	if opts.Format != render.FormatTable && opts.Format != "" {
		return r.Render(res)
	}
	status := "clean"
	if !res.Clean {
		status = "references remain"
	}
	if err := r.RenderKV([][2]string{
		{"source", res.SourceID},
		{"remaining", itoa(res.Summary.TotalSourceRemaining)},
		{"status", status},
	}); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return r.RenderTable(res.Table())
}

// WriteRemoval renders a removal report
func WriteRemoval(w io.Writer, opts render.Options, rep *removal.Report) error {
	r := render.NewRenderer(w, opts)
	if opts.Format != render.FormatTable && opts.Format != "" {
		return r.Render(rep)
	}
	pairs := [][2]string{
		{"run", rep.RunID},
		{"entity", fmt.Sprintf("%s.%s = %s", rep.Entity.Table, rep.Entity.PrimaryKey, rep.SourceID)},
		{"mode", modeName(rep.DryRun)},
		{"phase", string(rep.Phase)},
		{"backup", string(rep.BackupReference)},
		{"removed", strconv.FormatBool(rep.Removed)},
		{"verified", strconv.FormatBool(rep.Verified)},
		{"duration", duration(rep.StartedAt, rep.FinishedAt)},
	}
	if rep.Error != "" {
		pairs = append(pairs, [2]string{"error", rep.Error})
	}
	if err := r.RenderKV(pairs); err != nil {
		return err
	}
	if rep.SafetyCheck != nil && !rep.SafetyCheck.Clean() {
		fmt.Fprintln(w)
		return r.RenderTable(Verification(rep.SafetyCheck.Results))
	}
	return nil
}

// WriteFile writes v as indented JSON to path, replacing any previous
// file atomically
func WriteFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move report file into place: %w", err)
	}
	return nil
}

func modeName(dryRun bool) string {
	return string(domain.ModeFor(dryRun))
}

func duration(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
