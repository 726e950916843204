package domain

import (
	"time"
)

// RunMode selects whether a run may mutate the data store
type RunMode string

const (
	ModeSimulate RunMode = "simulate"
	ModeExecute  RunMode = "execute"
)

// ModeFor maps a dry-run flag to a RunMode
func ModeFor(dryRun bool) RunMode {
	if dryRun {
		return ModeSimulate
	}
	return ModeExecute
}

// DryRun reports whether the mode never mutates state
func (m RunMode) DryRun() bool {
	return m != ModeExecute
}

// Binding identifies one place where an entity identifier may appear
type Binding struct {
	Table  string `json:"table" yaml:"table" toml:"table"`
	Column string `json:"column" yaml:"column" toml:"column"`
}

// String returns table.column
func (b Binding) String() string {
	return b.Table + "." + b.Column
}

// EntityRef locates the row of the entity that bindings refer to
type EntityRef struct {
	Table      string `json:"table" yaml:"table" toml:"table"`
	PrimaryKey string `json:"primary_key" yaml:"primary_key" toml:"primary_key"`
}

// IsZero reports whether no entity table is configured
func (e EntityRef) IsZero() bool {
	return e.Table == "" && e.PrimaryKey == ""
}

// MigrationTarget is the pair of identifiers a run moves references between
type MigrationTarget struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// PerTableResult records what happened to one binding during a migration
type PerTableResult struct {
	Table         string `json:"table"`
	Column        string `json:"column"`
	PreCount      int64  `json:"pre_count"`
	MigratedCount int64  `json:"migrated_count"`
	SkippedCount  int64  `json:"skipped_count"`
	ConflictCount int64  `json:"conflict_count"`
	Skipped       bool   `json:"skipped"`
}

// VerificationResult is the post-migration count for one binding
type VerificationResult struct {
	Table           string `json:"table"`
	Column          string `json:"column"`
	SourceRemaining int64  `json:"source_remaining"`
	TargetTotal     int64  `json:"target_total"`
}

// BackupSnapshot is an immutable copy of an entity row taken before deletion.
// Columns preserves the row's column order; Row is keyed by column name.
type BackupSnapshot struct {
	EntityTable string         `json:"entity_table"`
	PrimaryKey  string         `json:"primary_key"`
	EntityID    string         `json:"entity_id"`
	Columns     []string       `json:"columns"`
	Row         map[string]any `json:"row"`
	TakenAt     time.Time      `json:"taken_at"`
}

// BackupReference identifies a stored snapshot
type BackupReference string
