package domain

import (
	"regexp"
	"strings"
)

// IdentifierRegex matches SQL identifiers that are safe to quote and interpolate
var IdentifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier validates a table or column name
func ValidateIdentifier(kind, name string) error {
	if !IdentifierRegex.MatchString(name) {
		return ConfigurationError("invalid %s name %q: must match %s", kind, name, IdentifierRegex.String())
	}
	return nil
}

// ValidateBinding validates both halves of a binding
func ValidateBinding(b Binding) error {
	if err := ValidateIdentifier("table", b.Table); err != nil {
		return err
	}
	return ValidateIdentifier("column", b.Column)
}

// ValidateBindings validates every binding and rejects duplicates
func ValidateBindings(bindings []Binding) error {
	if len(bindings) == 0 {
		return ConfigurationError("no bindings configured")
	}
	seen := make(map[Binding]bool, len(bindings))
	for _, b := range bindings {
		if err := ValidateBinding(b); err != nil {
			return err
		}
		if seen[b] {
			return ConfigurationError("duplicate binding %s", b)
		}
		seen[b] = true
	}
	return nil
}

// ValidateEntityRef validates the entity table and primary key names
func ValidateEntityRef(e EntityRef) error {
	if err := ValidateIdentifier("entity table", e.Table); err != nil {
		return err
	}
	return ValidateIdentifier("primary key", e.PrimaryKey)
}

// ValidateTarget checks that both identifiers are set and differ
func ValidateTarget(t MigrationTarget) error {
	if strings.TrimSpace(t.SourceID) == "" {
		return ConfigurationError("source id is required")
	}
	if strings.TrimSpace(t.TargetID) == "" {
		return ConfigurationError("target id is required")
	}
	if t.SourceID == t.TargetID {
		return ConfigurationError("source and target id are identical (%s)", t.SourceID)
	}
	return nil
}
