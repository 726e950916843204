package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lherron/rebind/internal/cursor"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/id"
)

// RunKind names the operation a run performed
type RunKind string

const (
	RunMigrate RunKind = "migrate"
	RunVerify  RunKind = "verify"
	RunRemove  RunKind = "remove"
)

// Run status values
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunStore handles run history persistence.
type RunStore struct {
	store *Store
}

// Run is one row of run history
type Run struct {
	ID         int64           `json:"-"`
	FriendlyID string          `json:"id"`
	UUID       string          `json:"uuid"`
	Kind       RunKind         `json:"kind"`
	SourceID   string          `json:"source_id"`
	TargetID   string          `json:"target_id,omitempty"`
	DryRun     bool            `json:"dry_run"`
	Phase      string          `json:"phase"`
	Status     string          `json:"status"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	Report     json.RawMessage `json:"report,omitempty"`
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at,omitempty"`
}

// CreateRunParams contains parameters for starting a run.
type CreateRunParams struct {
	UUID     string // optional: force specific UUID instead of auto-generating
	Kind     RunKind
	SourceID string
	TargetID string
	DryRun   bool
}

// Create inserts a running run and returns it.
func (rs *RunStore) Create(ctx context.Context, params CreateRunParams) (*Run, error) {
	runUUID := params.UUID
	if runUUID == "" {
		runUUID = uuid.NewString()
	}
	var targetID *string
	if params.TargetID != "" {
		targetID = &params.TargetID
	}

	var runID int64
	err := rs.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO runs (uuid, kind, source_id, target_id, dry_run, started_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runUUID, string(params.Kind), params.SourceID, targetID, boolInt(params.DryRun), now())
		if err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		runID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read run id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rs.getByID(runID)
}

// FinishRunParams records the outcome of a run.
type FinishRunParams struct {
	Phase     string
	Succeeded bool
	Err       error
	Report    any
	Events    []events.Event
}

// Finish stores the outcome, the report and the run log in one transaction.
func (rs *RunStore) Finish(ctx context.Context, runID int64, params FinishRunParams) error {
	status := StatusSucceeded
	if !params.Succeeded {
		status = StatusFailed
	}

	var errKind, errMsg *string
	if params.Err != nil {
		status = StatusFailed
		k := string(domain.KindOf(params.Err))
		if k != "" {
			errKind = &k
		}
		m := params.Err.Error()
		errMsg = &m
	}

	var report *string
	if params.Report != nil {
		data, err := json.Marshal(params.Report)
		if err != nil {
			return fmt.Errorf("failed to encode run report: %w", err)
		}
		s := string(data)
		report = &s
	}

	return rs.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET phase = ?, status = ?, error_kind = ?, error = ?, report = ?, finished_at = ?
			WHERE id = ? AND status = 'running'
		`, params.Phase, status, errKind, errMsg, report, now(), runID)
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("run %s is not running", id.FormatRun(runID))
		}
		return rs.store.log.LogRunLog(tx, runID, params.Events)
	})
}

// Get resolves a run by friendly ID (R-00001), bare number or UUID.
func (rs *RunStore) Get(ref string) (*Run, error) {
	ref = strings.TrimSpace(ref)
	if id.IsUUID(strings.ToLower(ref)) {
		var runID int64
		err := rs.store.db.QueryRow("SELECT id FROM runs WHERE uuid = ?", strings.ToLower(ref)).Scan(&runID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("", "runs", "run %s not found", ref)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve run: %w", err)
		}
		return rs.getByID(runID)
	}

	runID, err := id.ParseRun(ref)
	if err != nil {
		return nil, domain.ConfigurationError("%v", err)
	}
	return rs.getByID(runID)
}

// ListRunsParams filters run history.
type ListRunsParams struct {
	SourceID string
	Kind     RunKind
	Limit    int
	Cursor   string // from a previous Page; requires the same filters
}

func (p ListRunsParams) scope() string {
	return cursor.Scope(p.SourceID, string(p.Kind))
}

// List returns runs newest first.
func (rs *RunStore) List(params ListRunsParams) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if params.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, params.SourceID)
	}
	if params.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(params.Kind))
	}
	if params.Cursor != "" {
		c, err := cursor.Decode(params.Cursor)
		if err != nil {
			return nil, domain.ConfigurationError("%v", err)
		}
		if err := c.Check(params.scope()); err != nil {
			return nil, domain.ConfigurationError("%v", err)
		}
		clause, cursorArgs := c.Where("id")
		query += " AND " + clause
		args = append(args, cursorArgs...)
	}
	query += " ORDER BY id DESC"
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := rs.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// Page lists one page of runs and returns the cursor of the next page,
// or "" when this page is the last.
func (rs *RunStore) Page(params ListRunsParams) ([]Run, string, error) {
	if params.Limit <= 0 {
		runs, err := rs.List(params)
		return runs, "", err
	}
	want := params.Limit
	params.Limit = want + 1
	runs, err := rs.List(params)
	if err != nil {
		return nil, "", err
	}
	if len(runs) <= want {
		return runs, "", nil
	}
	runs = runs[:want]
	c, err := cursor.New(runs[want-1].ID, params.scope())
	if err != nil {
		return nil, "", err
	}
	next, err := c.Encode()
	if err != nil {
		return nil, "", err
	}
	return runs, next, nil
}

// Events returns the persisted run log of a run.
func (rs *RunStore) Events(runID int64) ([]events.Event, error) {
	return rs.store.log.ReadRunLog(runID)
}

const runColumns = `id, uuid, kind, source_id, target_id, dry_run, phase, status,
	error_kind, error, report, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (rs *RunStore) getByID(runID int64) (*Run, error) {
	row := rs.store.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError("", "runs", "run %s not found", id.FormatRun(runID))
	}
	return run, err
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		run                                 Run
		kind                                string
		dryRun                              int
		targetID, errKind, errMsg, finished sql.NullString
		report                              sql.NullString
	)
	err := s.Scan(&run.ID, &run.UUID, &kind, &run.SourceID, &targetID, &dryRun, &run.Phase, &run.Status,
		&errKind, &errMsg, &report, &run.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.FriendlyID = id.FormatRun(run.ID)
	run.Kind = RunKind(kind)
	run.DryRun = dryRun == 1
	run.TargetID = targetID.String
	run.ErrorKind = errKind.String
	run.Error = errMsg.String
	run.FinishedAt = finished.String
	if report.Valid && report.String != "" {
		run.Report = json.RawMessage(report.String)
	}
	return &run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
