package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lherron/rebind/internal/backup"
	"github.com/lherron/rebind/internal/domain"
)

const statePrefix = "state:"

// BackupStore keeps entity snapshots in the state database. Rows are
// immutable; the schema rejects updates and deletes.
type BackupStore struct {
	store *Store
}

var _ backup.Storage = (*BackupStore)(nil)
var _ backup.Loader = (*BackupStore)(nil)

// BackupRecord is one stored snapshot
type BackupRecord struct {
	Reference   domain.BackupReference `json:"reference"`
	EntityTable string                 `json:"entity_table"`
	PrimaryKey  string                 `json:"primary_key"`
	EntityID    string                 `json:"entity_id"`
	TakenAt     string                 `json:"taken_at"`
	Digest      string                 `json:"digest"`
	CreatedAt   string                 `json:"created_at"`
}

// Store inserts the snapshot and returns state:<uuid>.
func (bs *BackupStore) Store(ctx context.Context, snapshot domain.BackupSnapshot) (domain.BackupReference, error) {
	data, err := backup.CanonicalJSON(snapshot)
	if err != nil {
		return "", err
	}
	backupUUID := uuid.NewString()

	err = bs.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO backups (uuid, entity_table, primary_key, entity_id, taken_at, digest, snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, backupUUID, snapshot.EntityTable, snapshot.PrimaryKey, snapshot.EntityID,
			snapshot.TakenAt.UTC().Format(time.RFC3339Nano), backup.Digest(data), string(data))
		if err != nil {
			return fmt.Errorf("failed to store backup: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return domain.BackupReference(statePrefix + backupUUID), nil
}

// Exists reports whether the backup row is present and intact.
func (bs *BackupStore) Exists(ctx context.Context, ref domain.BackupReference) (bool, error) {
	backupUUID, err := parseStateReference(ref)
	if err != nil {
		return false, err
	}
	var digest, data string
	err = bs.store.db.QueryRowContext(ctx, "SELECT digest, snapshot FROM backups WHERE uuid = ?", backupUUID).Scan(&digest, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read backup: %w", err)
	}
	return backup.Digest([]byte(data)) == digest, nil
}

// Load decodes the referenced snapshot.
func (bs *BackupStore) Load(ctx context.Context, ref domain.BackupReference) (domain.BackupSnapshot, error) {
	backupUUID, err := parseStateReference(ref)
	if err != nil {
		return domain.BackupSnapshot{}, err
	}
	var digest, data string
	err = bs.store.db.QueryRowContext(ctx, "SELECT digest, snapshot FROM backups WHERE uuid = ?", backupUUID).Scan(&digest, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BackupSnapshot{}, domain.NotFoundError("", "backups", "backup %s not found", ref)
	}
	if err != nil {
		return domain.BackupSnapshot{}, fmt.Errorf("failed to read backup: %w", err)
	}
	if got := backup.Digest([]byte(data)); got != digest {
		return domain.BackupSnapshot{}, fmt.Errorf("backup %s is corrupt: digest %s, expected %s", ref, got, digest)
	}
	return backup.Decode([]byte(data))
}

// ListBackupsParams filters stored backups.
type ListBackupsParams struct {
	EntityTable string
	EntityID    string
	Limit       int
}

// List returns backups newest first.
func (bs *BackupStore) List(params ListBackupsParams) ([]BackupRecord, error) {
	query := `
		SELECT uuid, entity_table, primary_key, entity_id, taken_at, digest, created_at
		FROM backups WHERE 1=1`
	var args []any
	if params.EntityTable != "" {
		query += " AND entity_table = ?"
		args = append(args, params.EntityTable)
	}
	if params.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, params.EntityID)
	}
	query += " ORDER BY taken_at DESC, created_at DESC"
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := bs.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var out []BackupRecord
	for rows.Next() {
		var rec BackupRecord
		var backupUUID string
		if err := rows.Scan(&backupUUID, &rec.EntityTable, &rec.PrimaryKey, &rec.EntityID, &rec.TakenAt, &rec.Digest, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		rec.Reference = domain.BackupReference(statePrefix + backupUUID)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}
	return out, nil
}

// IsStateReference reports whether ref points at a state database backup
func IsStateReference(ref domain.BackupReference) bool {
	return strings.HasPrefix(string(ref), statePrefix)
}

func parseStateReference(ref domain.BackupReference) (string, error) {
	s := string(ref)
	if !strings.HasPrefix(s, statePrefix) {
		return "", fmt.Errorf("not a state backup reference: %q", s)
	}
	backupUUID := strings.TrimPrefix(s, statePrefix)
	if _, err := uuid.Parse(backupUUID); err != nil {
		return "", fmt.Errorf("invalid backup reference %q: %w", s, err)
	}
	return backupUUID, nil
}
