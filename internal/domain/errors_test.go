package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := QueryError("migrating", "content", cause)

	require.ErrorIs(t, err, ErrQuery)
	require.NotErrorIs(t, err, ErrSafety)
	require.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("run failed: %w", err)
	require.Equal(t, KindQuery, KindOf(wrapped))
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := QueryError("migrating", "content", errors.New("boom"))
	for _, want := range []string{"query", "migrating", "content", "boom"} {
		require.ErrorContains(t, err, want)
	}
}

func TestKindOfPlainError(t *testing.T) {
	require.Empty(t, KindOf(errors.New("plain")))
	require.Equal(t, KindSafety, KindOf(SafetyError(3)))
}
