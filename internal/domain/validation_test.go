package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "simple", value: "content", wantErr: false},
		{name: "underscore", value: "user_id", wantErr: false},
		{name: "leading underscore", value: "_meta", wantErr: false},
		{name: "digits", value: "media2", wantErr: false},
		{name: "empty", value: "", wantErr: true},
		{name: "leading digit", value: "2media", wantErr: true},
		{name: "space", value: "user id", wantErr: true},
		{name: "quote", value: `users"--`, wantErr: true},
		{name: "dotted", value: "public.users", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier("table", tt.value)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateBindings(t *testing.T) {
	require.ErrorIs(t, ValidateBindings(nil), ErrConfiguration)

	dup := []Binding{{Table: "content", Column: "user_id"}, {Table: "content", Column: "user_id"}}
	require.ErrorIs(t, ValidateBindings(dup), ErrConfiguration)

	ok := []Binding{{Table: "content", Column: "user_id"}, {Table: "media", Column: "user_id"}}
	require.NoError(t, ValidateBindings(ok))
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name    string
		target  MigrationTarget
		wantErr bool
	}{
		{name: "valid", target: MigrationTarget{SourceID: "41", TargetID: "358"}},
		{name: "missing source", target: MigrationTarget{TargetID: "358"}, wantErr: true},
		{name: "missing target", target: MigrationTarget{SourceID: "41"}, wantErr: true},
		{name: "blank source", target: MigrationTarget{SourceID: "  ", TargetID: "358"}, wantErr: true},
		{name: "identical", target: MigrationTarget{SourceID: "41", TargetID: "41"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.target)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
