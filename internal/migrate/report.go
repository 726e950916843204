package migrate

import (
	"time"

	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
)

// Phase is a state of the migration state machine
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseCounting   Phase = "counting"
	PhaseMigrating  Phase = "migrating"
	PhaseCommitted  Phase = "committed"
	PhaseRolledBack Phase = "rolled_back"
	PhaseAborted    Phase = "aborted"
	PhaseSimulated  Phase = "simulated"
)

// Terminal reports whether no further transitions are possible
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCommitted, PhaseRolledBack, PhaseAborted, PhaseSimulated:
		return true
	}
	return false
}

// Report is the outcome of one migration run. It is returned on failure
// too, with Phase recording where the run stopped.
type Report struct {
	RunID                string                      `json:"run_id"`
	SourceID             string                      `json:"source_id"`
	TargetID             string                      `json:"target_id"`
	DryRun               bool                        `json:"dry_run"`
	Phase                Phase                       `json:"phase"`
	PerTableResults      []domain.PerTableResult     `json:"per_table_results"`
	VerificationResults  []domain.VerificationResult `json:"verification_results,omitempty"`
	TotalSourceRemaining int64                       `json:"total_source_remaining"`
	TotalMigrated        int64                       `json:"total_migrated"`
	StartedAt            time.Time                   `json:"started_at"`
	FinishedAt           time.Time                   `json:"finished_at"`
	Error                string                      `json:"error,omitempty"`
	ErrorKind            domain.Kind                 `json:"error_kind,omitempty"`
	Events               []events.Event              `json:"events"`
}

// Succeeded reports whether the run reached its intended terminal phase
// without error
func (r *Report) Succeeded() bool {
	return r.Error == "" && (r.Phase == PhaseCommitted || r.Phase == PhaseSimulated)
}

func (r *Report) fail(err error) {
	if err == nil {
		return
	}
	r.Error = err.Error()
	r.ErrorKind = domain.KindOf(err)
}
