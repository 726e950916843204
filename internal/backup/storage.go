// Package backup stores immutable snapshots of entity rows taken before
// they are deleted.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lherron/rebind/internal/domain"
)

// Storage persists snapshots durably. A reference returned by Store must
// satisfy Exists before the entity row may be deleted.
type Storage interface {
	Store(ctx context.Context, snapshot domain.BackupSnapshot) (domain.BackupReference, error)
	Exists(ctx context.Context, ref domain.BackupReference) (bool, error)
}

// Loader reads a stored snapshot back
type Loader interface {
	Load(ctx context.Context, ref domain.BackupReference) (domain.BackupSnapshot, error)
}

const filePrefix = "file:"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileStorage writes each snapshot to its own read-only JSON file
type FileStorage struct {
	dir string
}

// NewFileStorage creates a file storage rooted at dir
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Store writes the snapshot, syncs it to disk and returns
// file:<path>#sha256:<hex>
func (f *FileStorage) Store(ctx context.Context, snapshot domain.BackupSnapshot) (domain.BackupReference, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := CanonicalJSON(snapshot)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.json",
		unsafeName.ReplaceAllString(snapshot.EntityTable, "_"),
		unsafeName.ReplaceAllString(snapshot.EntityID, "_"),
		snapshot.TakenAt.UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(f.dir, name)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0444)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to sync backup file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close backup file: %w", err)
	}

	return domain.BackupReference(filePrefix + path + "#" + Digest(data)), nil
}

// Exists reports whether the referenced file is present and its content
// still matches the recorded digest
func (f *FileStorage) Exists(ctx context.Context, ref domain.BackupReference) (bool, error) {
	path, digest, err := ParseFileReference(ref)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read backup file: %w", err)
	}
	return Digest(data) == digest, nil
}

// Load reads and decodes the referenced snapshot, checking its digest
func (f *FileStorage) Load(ctx context.Context, ref domain.BackupReference) (domain.BackupSnapshot, error) {
	path, digest, err := ParseFileReference(ref)
	if err != nil {
		return domain.BackupSnapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.BackupSnapshot{}, fmt.Errorf("failed to read backup file: %w", err)
	}
	if got := Digest(data); got != digest {
		return domain.BackupSnapshot{}, fmt.Errorf("backup %s is corrupt: digest %s, expected %s", path, got, digest)
	}
	return Decode(data)
}

// List returns the paths of every backup file in the directory
func (f *FileStorage) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return matches, nil
}

// FileEntry describes one backup file
type FileEntry struct {
	Reference   domain.BackupReference `json:"reference"`
	EntityTable string                 `json:"entity_table"`
	PrimaryKey  string                 `json:"primary_key"`
	EntityID    string                 `json:"entity_id"`
	TakenAt     time.Time              `json:"taken_at"`
}

// Entries decodes every backup file in the directory, newest first.
// Files that do not decode are skipped.
func (f *FileStorage) Entries() ([]FileEntry, error) {
	paths, err := f.List()
	if err != nil {
		return nil, err
	}
	entries := make([]FileEntry, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read backup file: %w", err)
		}
		snapshot, err := Decode(data)
		if err != nil {
			continue
		}
		entries = append(entries, FileEntry{
			Reference:   domain.BackupReference(filePrefix + path + "#" + Digest(data)),
			EntityTable: snapshot.EntityTable,
			PrimaryKey:  snapshot.PrimaryKey,
			EntityID:    snapshot.EntityID,
			TakenAt:     snapshot.TakenAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TakenAt.After(entries[j].TakenAt)
	})
	return entries, nil
}

// ParseFileReference splits file:<path>#sha256:<hex>
func ParseFileReference(ref domain.BackupReference) (path, digest string, err error) {
	s := string(ref)
	if !strings.HasPrefix(s, filePrefix) {
		return "", "", fmt.Errorf("not a file backup reference: %q", s)
	}
	s = strings.TrimPrefix(s, filePrefix)
	i := strings.LastIndex(s, "#")
	if i < 0 || !strings.HasPrefix(s[i+1:], "sha256:") {
		return "", "", fmt.Errorf("backup reference %q has no digest", ref)
	}
	return s[:i], s[i+1:], nil
}

// IsFileReference reports whether ref points at a FileStorage backup
func IsFileReference(ref domain.BackupReference) bool {
	return strings.HasPrefix(string(ref), filePrefix)
}
