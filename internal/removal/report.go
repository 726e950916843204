package removal

import (
	"time"

	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/verify"
)

// Phase is a state of the removal gate
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseSafetyCheck    Phase = "safety_check"
	PhaseBackup         Phase = "backup"
	PhaseDeleting       Phase = "deleting"
	PhaseConfirmAbsence Phase = "confirm_absence"
	PhaseCommitted      Phase = "committed"
	PhaseRolledBack     Phase = "rolled_back"
	PhaseAborted        Phase = "aborted"
	PhaseSimulated      Phase = "simulated"
)

// Report is the outcome of one removal run, returned on failure too
type Report struct {
	RunID           string                 `json:"run_id"`
	SourceID        string                 `json:"source_id"`
	Entity          domain.EntityRef       `json:"entity"`
	DryRun          bool                   `json:"dry_run"`
	Phase           Phase                  `json:"phase"`
	SafetyCheck     *verify.Summary        `json:"safety_check,omitempty"`
	BackupReference domain.BackupReference `json:"backup_reference,omitempty"`
	Removed         bool                   `json:"removed"`
	Verified        bool                   `json:"verified"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      time.Time              `json:"finished_at"`
	Error           string                 `json:"error,omitempty"`
	ErrorKind       domain.Kind            `json:"error_kind,omitempty"`
	Events          []events.Event         `json:"events"`
}

// Succeeded reports whether the run reached its intended terminal phase
// without error
func (r *Report) Succeeded() bool {
	return r.Error == "" && (r.Phase == PhaseCommitted || r.Phase == PhaseSimulated)
}
