package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures so callers branch on kind, not on message text
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindQuery         Kind = "query"
	KindSafety        Kind = "safety"
	KindVerification  Kind = "verification"
)

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration, Message: "configuration error"}
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrQuery         = &Error{Kind: KindQuery, Message: "query failed"}
	ErrSafety        = &Error{Kind: KindSafety, Message: "unsafe to remove"}
	ErrVerification  = &Error{Kind: KindVerification, Message: "verification failed"}
)

// Error carries the kind, phase and table a failure happened in
type Error struct {
	Kind    Kind
	Phase   string
	Table   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Phase != "" {
		b.WriteString(" [")
		b.WriteString(e.Phase)
		b.WriteString("]")
	}
	if e.Table != "" {
		b.WriteString(" table ")
		b.WriteString(e.Table)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Phase == "" && t.Table == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ConfigurationError reports an invalid or missing setting
func ConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent entity row
func NotFoundError(phase, table, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Phase: phase, Table: table, Message: fmt.Sprintf(format, args...)}
}

// QueryError wraps a failed statement
func QueryError(phase, table string, err error) *Error {
	return &Error{Kind: KindQuery, Phase: phase, Table: table, Err: err}
}

// SafetyError reports references that still block removal
func SafetyError(remaining int64) *Error {
	return &Error{Kind: KindSafety, Phase: "safety_check", Message: fmt.Sprintf("%d reference(s) to the source identifier remain", remaining)}
}

// VerificationError reports a post-write consistency failure
func VerificationError(phase, table, format string, args ...any) *Error {
	return &Error{Kind: KindVerification, Phase: phase, Table: table, Message: fmt.Sprintf(format, args...)}
}
