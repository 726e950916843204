package report

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lherron/rebind/internal/migrate"
)

// PlanDiff renders the reference counts a simulated migration would
// change as a unified diff of before and after states
func PlanDiff(rep *migrate.Report) (string, error) {
	var before, after strings.Builder
	for _, r := range rep.PerTableResults {
		fmt.Fprintf(&before, "%s.%s = %s: %d\n", r.Table, r.Column, rep.SourceID, r.PreCount)
		fmt.Fprintf(&before, "%s.%s = %s: %d\n", r.Table, r.Column, rep.TargetID, r.ConflictCount)
		fmt.Fprintf(&after, "%s.%s = %s: %d\n", r.Table, r.Column, rep.SourceID, 0)
		fmt.Fprintf(&after, "%s.%s = %s: %d\n", r.Table, r.Column, rep.TargetID, r.ConflictCount+r.PreCount)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before.String()),
		B:        difflib.SplitLines(after.String()),
		FromFile: "current",
		ToFile:   "after-migrate",
		Context:  1,
	}
	return difflib.GetUnifiedDiffString(diff)
}
