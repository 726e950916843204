package backup

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lherron/rebind/internal/domain"
)

// CanonicalJSON produces a deterministic encoding of a snapshot:
// - Fixed top-level key order
// - Row keys in the row's column order
// - No insignificant whitespace, no HTML escaping
// - Timestamps as RFC3339Nano UTC
// - Byte values as {"$bytes": "<base64>"}
func CanonicalJSON(s domain.BackupSnapshot) ([]byte, error) {
	row := make(orderedMap, 0, len(s.Columns))
	for _, col := range s.Columns {
		row = append(row, keyValue{col, encodeValue(s.Row[col])})
	}
	columns := s.Columns
	if columns == nil {
		columns = []string{}
	}

	ordered := orderedMap{
		{"entity_table", s.EntityTable},
		{"primary_key", s.PrimaryKey},
		{"entity_id", s.EntityID},
		{"taken_at", s.TakenAt.UTC().Format(time.RFC3339Nano)},
		{"columns", columns},
		{"row", row},
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(ordered); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	// Remove trailing newline added by Encode
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Digest returns "sha256:<hex>" of data
func Digest(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Decode parses canonical snapshot bytes. Numbers are kept as json.Number.
func Decode(data []byte) (domain.BackupSnapshot, error) {
	var raw struct {
		EntityTable string         `json:"entity_table"`
		PrimaryKey  string         `json:"primary_key"`
		EntityID    string         `json:"entity_id"`
		TakenAt     string         `json:"taken_at"`
		Columns     []string       `json:"columns"`
		Row         map[string]any `json:"row"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return domain.BackupSnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	takenAt, err := time.Parse(time.RFC3339Nano, raw.TakenAt)
	if err != nil {
		return domain.BackupSnapshot{}, fmt.Errorf("invalid snapshot timestamp %q: %w", raw.TakenAt, err)
	}
	if err := decodeRow(raw.Row); err != nil {
		return domain.BackupSnapshot{}, err
	}
	return domain.BackupSnapshot{
		EntityTable: raw.EntityTable,
		PrimaryKey:  raw.PrimaryKey,
		EntityID:    raw.EntityID,
		Columns:     raw.Columns,
		Row:         raw.Row,
		TakenAt:     takenAt,
	}, nil
}

const bytesKey = "$bytes"

func encodeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return orderedMap{{bytesKey, base64.StdEncoding.EncodeToString(b)}}
	}
	return v
}

// decodeRow restores byte values written by encodeValue in place.
func decodeRow(row map[string]any) error {
	for col, v := range row {
		obj, ok := v.(map[string]any)
		if !ok || len(obj) != 1 {
			continue
		}
		encoded, ok := obj[bytesKey].(string)
		if !ok {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid byte value in column %q: %w", col, err)
		}
		row[col] = b
	}
	return nil
}

// orderedMap is a slice of key-value pairs that marshals as a JSON object
// with keys in the order they appear in the slice.
type orderedMap []keyValue

type keyValue struct {
	Key   string
	Value any
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, kv := range om {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		valJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
