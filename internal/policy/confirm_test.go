package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireConfirmation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                 string
		toolName             string
		confirmationRequired bool
		args                 map[string]any
		wantErr              string
	}{
		{
			name:     "no confirmation needed for read tool",
			toolName: "list_artists",
			args:     map[string]any{},
		},
		{
			name:     "delete tool requires confirmation",
			toolName: "delete_artist",
			args:     map[string]any{"id": 7},
			wantErr:  "requires confirm=true",
		},
		{
			name:     "delete tool accepts confirm true",
			toolName: "delete_artist",
			args: map[string]any{
				"id":      7,
				"confirm": true,
			},
		},
		{
			name:                 "explicit confirmationRequired metadata is honored",
			toolName:             "update_artist",
			confirmationRequired: true,
			args:                 map[string]any{},
			wantErr:              "requires confirm=true",
		},
		{
			name:     "confirm must be boolean true",
			toolName: "delete_artist",
			args: map[string]any{
				"id":      7,
				"confirm": "true",
			},
			wantErr: "requires confirm=true",
		},
		{
			name:     "nil arguments on delete tool",
			toolName: "delete_artist",
			wantErr:  "requires confirm=true",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := RequireConfirmation(tc.toolName, tc.confirmationRequired, tc.args)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestStripConfirm(t *testing.T) {
	t.Parallel()

	args := map[string]any{"id": 7, "confirm": true}
	stripped := StripConfirm(args)
	require.Equal(t, map[string]any{"id": 7}, stripped)
	require.Contains(t, args, "confirm")

	untouched := map[string]any{"id": 7}
	require.Equal(t, untouched, StripConfirm(untouched))
	require.Nil(t, StripConfirm(nil))
}
