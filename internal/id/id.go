package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	runIDPattern     = regexp.MustCompile(`^R-\d{5,}$`)
	uuidPattern      = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	numericPattern   = regexp.MustCompile(`^-?\d+$`)
	whitespaceRegexp = regexp.MustCompile(`\s`)
)

// Type represents the shape of an entity identifier
type Type string

const (
	TypeNumeric Type = "numeric"
	TypeUUID    Type = "uuid"
	TypeText    Type = "text"
)

// FormatRun formats a run friendly ID
func FormatRun(seq int64) string {
	return fmt.Sprintf("R-%05d", seq)
}

// ParseRun parses a run friendly ID and returns its sequence number
func ParseRun(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if !runIDPattern.MatchString(s) {
		if numericPattern.MatchString(s) {
			return strconv.ParseInt(s, 10, 64)
		}
		return 0, fmt.Errorf("invalid run ID format: %s", s)
	}
	return strconv.ParseInt(s[2:], 10, 64)
}

// Normalize trims an entity identifier and classifies it.
// UUIDs are lowercased; every other identifier is kept verbatim.
func Normalize(raw string) (string, Type, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", fmt.Errorf("identifier is empty")
	}
	if whitespaceRegexp.MatchString(s) {
		return "", "", fmt.Errorf("identifier %q contains whitespace", raw)
	}

	switch {
	case numericPattern.MatchString(s):
		return s, TypeNumeric, nil
	case IsUUID(s):
		return strings.ToLower(s), TypeUUID, nil
	default:
		return s, TypeText, nil
	}
}

// IsUUID checks if a string is a valid UUID
func IsUUID(s string) bool {
	return uuidPattern.MatchString(strings.ToLower(s))
}
