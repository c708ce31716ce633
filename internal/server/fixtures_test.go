package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/chamicore-toolgate/api"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

var artistCatalogue = []string{
	"list_artists",
	"get_artist",
	"search_artists",
	"create_artist",
	"update_artist",
	"delete_artist",
}

var operator = SessionPrincipal{Subject: "operator", Scopes: []string{"admin"}}

type recordedCall struct {
	name string
	args map[string]any
}

// recordingCaller stands in for the execution engine and records every call
// that reaches it.
type recordingCaller struct {
	mu      sync.Mutex
	calls   []recordedCall
	payload map[string]any
	err     error
}

func (c *recordingCaller) Call(_ context.Context, name string, args map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{name: name, args: args})
	if c.err != nil {
		return nil, c.err
	}
	if c.payload != nil {
		return c.payload, nil
	}
	return map[string]any{"called": name}, nil
}

func (c *recordingCaller) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *recordingCaller) last() recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

type statusErr struct {
	status  int
	message string
}

func (e statusErr) Error() string   { return e.message }
func (e statusErr) StatusCode() int { return e.status }

func mustArtistRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	registry, err := NewToolRegistry(api.ToolsContract)
	require.NoError(t, err)
	return registry
}

func mustGuard(t *testing.T, mode string) *policy.Guard {
	t.Helper()
	guard, err := policy.NewGuard(mode, mode == policy.ModeReadWrite)
	require.NoError(t, err)
	return guard
}

func newTestGateway(t *testing.T, static scope.Spec, mode string, caller ToolCaller, opts ...GatewayOption) *ToolGateway {
	t.Helper()
	return NewToolGateway(mustArtistRegistry(t), static, mustGuard(t, mode), caller, opts...)
}

func toolNames(tools []ToolSpec) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}
