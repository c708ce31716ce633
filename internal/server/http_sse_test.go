package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/grants"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/metrics"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

const httpSessionToken = "http-session-token"

func newTestHTTPServer(t *testing.T, opts HTTPOptions) *httptest.Server {
	t.Helper()

	if opts.Authenticator == nil {
		opts.Authenticator = NewTokenSessionAuthenticator(httpSessionToken)
	}
	if opts.Version == "" {
		opts.Version = "v-test"
	}
	opts.Logger = zerolog.Nop()
	ts := httptest.NewServer(NewHTTPServer(opts).Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, payload
}

func TestHTTPServer_RoutesAndSSE(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, &recordingCaller{}, WithMetrics(metrics.New()))
	ts := newTestHTTPServer(t, HTTPOptions{
		Commit:    "c-test",
		BuildDate: "b-test",
		Gateway:   gateway,
	})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/version", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "c-test")

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/tools.yaml", httpSessionToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	require.Contains(t, string(body), "name: create_artist")

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/initialize", httpSessionToken, `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "mcp/v1", resp.Header.Get("API-Version"))
	var initPayload map[string]any
	require.NoError(t, json.Unmarshal(body, &initPayload))
	require.Equal(t, defaultProtocolVersion, initPayload["protocolVersion"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/mcp/v1/tools", httpSessionToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	var listed listToolsResult
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Tools, len(artistCatalogue))

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call/sse", httpSessionToken, `{"name":"search_artists","arguments":{"query":"simone"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	content := string(body)
	require.Contains(t, content, "event: accepted")
	require.Contains(t, content, "event: result")
	require.Contains(t, content, "event: done")
	require.Contains(t, content, "search_artists")

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/metrics", httpSessionToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "chamicore_toolgate_list_tools_total")
}

func TestHTTPServer_MetricsDisabled(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil)
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/metrics", httpSessionToken, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPServer_MetricsRequireAdminScope(t *testing.T) {
	reader := testJWTToken(t, "reporting-bot", []string{"read:artists"})
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil, WithMetrics(metrics.New()))
	ts := newTestHTTPServer(t, HTTPOptions{
		Gateway:       gateway,
		Authenticator: NewTokenSessionAuthenticator(httpSessionToken, reader),
	})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/metrics", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/metrics", reader, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, string(body), "admin scope required")
	require.NotContains(t, string(body), "create_artist")
}

func TestHTTPServer_ContractFollowsEffectiveScope(t *testing.T) {
	gateway := newTestGateway(t, scope.Restrict("list_artists"), policy.ModeReadOnly, nil)
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/tools.yaml", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotContains(t, string(body), "create_artist")

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/tools.yaml", httpSessionToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc toolContract
	require.NoError(t, yaml.Unmarshal(body, &doc))
	require.Equal(t, []string{"list_artists"}, toolNames(doc.Tools))
	require.NotContains(t, string(body), "create_artist")
	require.NotContains(t, string(body), "delete_artist")
}

func TestHTTPServer_OpaqueTokensResolveSeparateGrants(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, &recordingCaller{})
	ts := newTestHTTPServer(t, HTTPOptions{
		Gateway:       gateway,
		Authenticator: NewTokenSessionAuthenticator(httpSessionToken, "reporting:reporting-secret", "audit:audit-secret"),
		Grants: grants.Static{
			"reporting": scope.Restrict("list_artists", "search_artists"),
			"audit":     scope.Restrict("get_artist"),
		},
	})

	listFor := func(token string) []string {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/mcp/v1/tools", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return listedToolNames(t, body)
	}
	require.Equal(t, []string{"list_artists", "search_artists"}, listFor("reporting-secret"))
	require.Equal(t, []string{"get_artist"}, listFor("audit-secret"))
	require.Len(t, listFor(httpSessionToken), len(artistCatalogue))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", "audit-secret", `{"name":"list_artists"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(body), "Tool not found: list_artists")
}

func TestHTTPServer_ToolRoutesRequireAuth(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, &recordingCaller{})
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/mcp/v1/tools", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, string(body), "expected Bearer <token>")

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/mcp", "wrong", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, string(body), "invalid bearer token")
}

func TestHTTPServer_CallToolOutOfScope(t *testing.T) {
	caller := &recordingCaller{}
	gateway := newTestGateway(t, scope.Restrict("list_artists"), policy.ModeReadOnly, caller)
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	for _, name := range []string{"get_artist", "nope"} {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"name":"`+name+`"}`)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
		require.Contains(t, string(body), "Tool not found: "+name)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call/sse", httpSessionToken, `{"name":"get_artist","arguments":{"id":1}}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotContains(t, string(body), "event:")
	require.Zero(t, caller.count())
}

func TestHTTPServer_CallToolSuccessAndEngineError(t *testing.T) {
	caller := &recordingCaller{payload: map[string]any{"id": float64(1), "name": "Nina Simone"}}
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, caller)
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"name":"get_artist","arguments":{"id":1}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result))
	require.Equal(t, false, result["isError"])
	structured := result["structuredContent"].(map[string]any)
	require.Equal(t, "Nina Simone", structured["result"].(map[string]any)["name"])

	failing := &recordingCaller{err: statusErr{status: http.StatusConflict, message: "artist already exists"}}
	ts = newTestHTTPServer(t, HTTPOptions{Gateway: newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, failing)})
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"name":"get_artist","arguments":{"id":1}}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(body), "artist already exists")
}

func TestHTTPServer_ReadOnlyModeDeniesWriteTool(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, &recordingCaller{})
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"name":"create_artist","arguments":{"name":"x"}}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, strings.ToLower(string(body)), "requires read-write mode")
}

func TestHTTPServer_DestructiveToolRequiresConfirmation(t *testing.T) {
	caller := &recordingCaller{}
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadWrite, caller)
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"name":"delete_artist","arguments":{"id":2}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "requires confirm=true")
	require.Zero(t, caller.count())

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"name":"delete_artist","arguments":{"id":2,"confirm":true}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, caller.count())
}

func TestHTTPServer_BadRequestBodies(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil)
	ts := newTestHTTPServer(t, HTTPOptions{Gateway: gateway})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"name":"get_artist","extra":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "invalid request body")

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, `{"arguments":{}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "tool name is required")

	huge := `{"name":"search_artists","arguments":{"query":"` + strings.Repeat("a", maxRequestBody) + `"}}`
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/mcp/v1/tools/call", httpSessionToken, huge)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHTTPServer_Readiness(t *testing.T) {
	gateway := newTestGateway(t, scope.Unrestricted(), policy.ModeReadOnly, nil)
	ts := newTestHTTPServer(t, HTTPOptions{
		Gateway: gateway,
		Ready:   func() error { return io.ErrUnexpectedEOF },
	})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/readiness", "", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, string(body), "unexpected EOF")
}
