package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/config"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/grants"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

func writeScopeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scopes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewRuntime_StaticScopePrecedence(t *testing.T) {
	file := writeScopeFile(t, "allowedTools: [get_artist]\nsubjects:\n  bot:\n    allowedTools: [list_artists]\n")

	tests := []struct {
		name string
		cfg  config.Config
		want scope.Spec
	}{
		{
			name: "nothing configured",
			cfg:  config.Config{},
			want: scope.Unrestricted(),
		},
		{
			name: "scope file",
			cfg:  config.Config{ScopeFile: file},
			want: scope.Restrict("get_artist"),
		},
		{
			name: "environment wins over scope file",
			cfg:  config.Config{ScopeFile: file, AllowedTools: scope.Restrict("search_artists"), AllowedToolsSet: true},
			want: scope.Restrict("search_artists"),
		},
		{
			name: "empty environment list allows nothing",
			cfg:  config.Config{ScopeFile: file, AllowedTools: scope.ParseList(""), AllowedToolsSet: true},
			want: scope.Restrict(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := newRuntime(context.Background(), tt.cfg, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(rt.close)
			require.Equal(t, tt.want.Restricted(), rt.static.Restricted())
			require.Equal(t, tt.want.Names(), rt.static.Names())
		})
	}
}

func TestNewRuntime_GrantsFromScopeFile(t *testing.T) {
	file := writeScopeFile(t, "subjects:\n  bot:\n    allowedTools: [list_artists]\n")

	rt, err := newRuntime(context.Background(), config.Config{ScopeFile: file}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(rt.close)

	got, err := rt.grants.Lookup(context.Background(), "bot")
	require.NoError(t, err)
	require.Equal(t, []string{"list_artists"}, got.Names())
	require.NoError(t, rt.ready())
}

func TestNewRuntime_Errors(t *testing.T) {
	_, err := newRuntime(context.Background(), config.Config{ScopeFile: filepath.Join(t.TempDir(), "missing.yaml")}, zerolog.Nop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading scope file")
}

func TestRuntime_ReadyJoinsFailures(t *testing.T) {
	rt := &runtime{logger: zerolog.Nop()}
	require.NoError(t, rt.ready())

	rt.checks = append(rt.checks,
		func(context.Context) error { return errors.New("sqlite down") },
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("nats down") },
	)
	err := rt.ready()
	require.Error(t, err)
	require.Contains(t, err.Error(), "sqlite down")
	require.Contains(t, err.Error(), "nats down")
}

func TestToolsCmd_Print(t *testing.T) {
	rt, err := newRuntime(context.Background(), config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	rt.static = scope.Restrict("list_artists", "get_artist", "search_artists")
	rt.grants = grants.Static{"bot": scope.Restrict("get_artist", "delete_artist")}

	var out bytes.Buffer
	require.NoError(t, ToolsCmd{Subject: "bot"}.print(context.Background(), &out, rt))
	text := out.String()
	require.Contains(t, text, "static scope:  restricted[list_artists,get_artist,search_artists]")
	require.Contains(t, text, "request scope: restricted[get_artist,delete_artist]")
	require.Contains(t, text, "effective (static):")
	require.Regexp(t, `\* get_artist`, text)
	require.Regexp(t, `  delete_artist`, text)
	require.NotRegexp(t, `\* delete_artist`, text)

	out.Reset()
	rt.static = scope.Unrestricted()
	require.NoError(t, ToolsCmd{Subject: "bot"}.print(context.Background(), &out, rt))
	require.Contains(t, out.String(), "effective (request):")
	require.Regexp(t, `\* delete_artist`, out.String())
	require.NotRegexp(t, `\* list_artists`, out.String())
}
