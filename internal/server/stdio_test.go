package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/grants"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

type failingSource struct{}

func (failingSource) Lookup(context.Context, string) (scope.Spec, error) {
	return scope.Spec{}, errors.New("database is down")
}

func runStdioLines(t *testing.T, opts StdioOptions, lines ...string) []rpcResponse {
	t.Helper()

	in := bytes.NewBufferString(strings.Join(append(lines, ""), "\n"))
	out := &bytes.Buffer{}
	opts.Logger = zerolog.Nop()
	require.NoError(t, RunStdio(context.Background(), in, out, opts))

	var responses []rpcResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestRunStdio_InitializeListAndCall(t *testing.T) {
	caller := &recordingCaller{}
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, caller)

	responses := runStdioLines(t, StdioOptions{
		Gateway:       gateway,
		Authenticator: NewTokenSessionAuthenticator("opaque"),
		Version:       "test-version",
	},
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_artist","arguments":{"id":5}}}`,
		`{"jsonrpc":"2.0","id":"four","method":"ping"}`,
	)
	require.Len(t, responses, 4)

	require.Nil(t, responses[0].Error)
	initMap, ok := responses[0].Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, defaultProtocolVersion, initMap["protocolVersion"])
	serverInfo := initMap["serverInfo"].(map[string]any)
	require.Equal(t, "chamicore-toolgate", serverInfo["name"])
	require.Equal(t, "test-version", serverInfo["version"])

	require.Nil(t, responses[1].Error)
	listMap, ok := responses[1].Result.(map[string]any)
	require.True(t, ok)
	tools, ok := listMap["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, len(artistCatalogue))

	require.Nil(t, responses[2].Error)
	callMap, ok := responses[2].Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, false, callMap["isError"])
	require.Equal(t, "get_artist", caller.last().name)

	require.JSONEq(t, `"four"`, string(responses[3].ID))
	require.Equal(t, map[string]any{}, responses[3].Result)
}

func TestRunStdio_UnknownMethod(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil)

	responses := runStdioLines(t, StdioOptions{Gateway: gateway},
		`{"jsonrpc":"2.0","id":1,"method":"nope","params":{}}`,
	)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	require.Equal(t, rpcCodeMethodNotFound, responses[0].Error.Code)
}

func TestRunStdio_InvalidPayloads(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil)

	responses := runStdioLines(t, StdioOptions{Gateway: gateway},
		`{not json`,
		`{"jsonrpc":"1.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call"}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":"oops"}`,
	)
	require.Len(t, responses, 4)
	require.Equal(t, rpcCodeParseError, responses[0].Error.Code)
	require.Equal(t, "null", string(responses[0].ID))
	require.Equal(t, rpcCodeInvalidRequest, responses[1].Error.Code)
	require.Equal(t, rpcCodeInvalidParams, responses[2].Error.Code)
	require.Equal(t, "missing params", responses[2].Error.Message)
	require.Equal(t, rpcCodeInvalidParams, responses[3].Error.Code)
}

func TestRunStdio_StaticScopeRejectsWithToolNotFound(t *testing.T) {
	caller := &recordingCaller{}
	gateway := newTestGateway(t, scope.Restrict("list_artists", "get_artist"), policy.ModeReadOnly, caller)

	responses := runStdioLines(t, StdioOptions{
		Gateway:       gateway,
		Authenticator: NewTokenSessionAuthenticator("opaque"),
		// The grant would allow search_artists; the static scope wins.
		Grants: grants.Static{"toolgate-session": scope.Restrict("search_artists")},
	},
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_artists","arguments":{"query":"x"}}}`,
	)
	require.Len(t, responses, 2)

	encoded, err := json.Marshal(responses[0].Result)
	require.NoError(t, err)
	var listed listToolsResult
	require.NoError(t, json.Unmarshal(encoded, &listed))
	require.Len(t, listed.Tools, 2)
	require.Equal(t, "list_artists", listed.Tools[0].Name)
	require.Equal(t, "get_artist", listed.Tools[1].Name)

	require.NotNil(t, responses[1].Error)
	require.Equal(t, -32602, responses[1].Error.Code)
	require.Equal(t, "Tool not found: search_artists", responses[1].Error.Message)
	require.Nil(t, responses[1].Result)
	require.Zero(t, caller.count())
}

func TestRunStdio_GrantBecomesRequestScope(t *testing.T) {
	caller := &recordingCaller{}
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, caller)
	token := testJWTToken(t, "reporting-bot", []string{"read:artists"})

	responses := runStdioLines(t, StdioOptions{
		Gateway:       gateway,
		Authenticator: NewTokenSessionAuthenticator(token),
		Grants:        grants.Static{"reporting-bot": scope.Restrict()},
	},
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_artists"}}`,
	)
	require.Len(t, responses, 2)

	listMap := responses[0].Result.(map[string]any)
	require.Empty(t, listMap["tools"])
	require.Equal(t, "Tool not found: list_artists", responses[1].Error.Message)
	require.Zero(t, caller.count())
}

func TestRunStdio_ReadOnlyModeDeniesWriteTool(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, &recordingCaller{})

	responses := runStdioLines(t, StdioOptions{Gateway: gateway, Authenticator: NewTokenSessionAuthenticator("opaque")},
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"create_artist","arguments":{"name":"x"}}}`,
	)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	require.Equal(t, rpcCodeInvalidParams, responses[0].Error.Code)
	require.Contains(t, responses[0].Error.Message, "requires read-write mode")
}

func TestRunStdio_SessionSetupFailures(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil)

	err := RunStdio(context.Background(), strings.NewReader(""), &bytes.Buffer{}, StdioOptions{
		Gateway:       gateway,
		Authenticator: NewTokenSessionAuthenticator(""),
		Logger:        zerolog.Nop(),
	})
	require.ErrorIs(t, err, ErrSessionTokenMissing)

	err = RunStdio(context.Background(), strings.NewReader(""), &bytes.Buffer{}, StdioOptions{
		Gateway:       gateway,
		Authenticator: NewTokenSessionAuthenticator("opaque"),
		Grants:        failingSource{},
		Logger:        zerolog.Nop(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "database is down")
}

func TestRunStdio_ContextCanceled(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunStdio(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &bytes.Buffer{}, StdioOptions{
		Gateway: gateway,
		Logger:  zerolog.Nop(),
	})
	require.ErrorIs(t, err, context.Canceled)
}
