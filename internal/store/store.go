// Package store persists run history, run logs and entity backups in the
// state database, keeping each write and its event log in one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lherron/rebind/internal/db"
	"github.com/lherron/rebind/internal/events"
)

// Store groups the run and backup stores over one state database
type Store struct {
	db  *db.DB
	log *events.Writer

	Runs    *RunStore
	Backups *BackupStore
}

// New creates a Store on a migrated state database
func New(database *db.DB) *Store {
	s := &Store{db: database, log: events.NewWriter(database.DB)}
	s.Runs = &RunStore{store: s}
	s.Backups = &BackupStore{store: s}
	return s
}

// withTx commits when fn returns nil and rolls back otherwise. A failed
// rollback is reported alongside fn's error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state transaction: %w", err)
	}
	return nil
}
