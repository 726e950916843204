// Package cursor encodes opaque pagination tokens for newest-first
// listings keyed by an integer row id.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor marks the last row of a page. Scope fingerprints the filters of
// the listing that produced it.
type Cursor struct {
	LastID int64  `json:"last_id"`
	Scope  string `json:"scope,omitempty"`
}

// New creates a cursor after lastID
func New(lastID int64, scope string) (*Cursor, error) {
	if lastID <= 0 {
		return nil, fmt.Errorf("last ID required")
	}
	return &Cursor{LastID: lastID, Scope: scope}, nil
}

// Scope joins filter values into a fingerprint
func Scope(filters ...string) string {
	return strings.Join(filters, "|")
}

// Encode serializes the cursor to an opaque base64 string
func (c *Cursor) Encode() (string, error) {
	jsonData, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(jsonData), nil
}

// Decode deserializes a cursor from an opaque base64 string
func Decode(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty cursor string")
	}

	jsonData, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(jsonData, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}
	if c.LastID <= 0 {
		return nil, fmt.Errorf("cursor missing last ID")
	}
	return &c, nil
}

// Check rejects a cursor produced by a listing with other filters
func (c *Cursor) Check(scope string) error {
	if c.Scope != scope {
		return fmt.Errorf("cursor does not match the current filters")
	}
	return nil
}

// Where returns the condition selecting rows after the cursor in a
// listing ordered by column descending
func (c *Cursor) Where(column string) (string, []any) {
	return column + " < ?", []any{c.LastID}
}
