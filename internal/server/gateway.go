package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/audit"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/metrics"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

// Transport labels used in logs, audit entries and metrics.
const (
	TransportStdio   = "stdio"
	TransportHTTP    = "http"
	TransportHTTPRPC = "http-rpc"
	TransportSSE     = "http-sse"
)

// RequestContext is the per-request input to the gateway. Scope is the
// request scope attached upstream; the zero value means none was attached.
type RequestContext struct {
	RequestID string
	SessionID string
	Transport string
	Principal SessionPrincipal
	Scope     scope.Spec
}

// ToolNotFoundError rejects a call to a tool outside the effective scope.
// Unknown tools and out-of-scope tools produce the same error.
type ToolNotFoundError struct {
	Name string
}

// Error implements error.
func (e *ToolNotFoundError) Error() string {
	return "Tool not found: " + e.Name
}

// StatusCode maps the rejection onto REST routes.
func (e *ToolNotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// GateError is returned when an in-scope call fails a policy gate.
type GateError struct {
	status int
	err    error
}

// Error implements error.
func (e *GateError) Error() string {
	return e.err.Error()
}

// Unwrap returns the underlying policy error.
func (e *GateError) Unwrap() error {
	return e.err
}

// StatusCode returns the HTTP status for REST routes.
func (e *GateError) StatusCode() int {
	return e.status
}

// GatewayOption configures a ToolGateway.
type GatewayOption func(*ToolGateway)

// WithAudit records one completion entry per tool call.
func WithAudit(a *audit.Logger) GatewayOption {
	return func(g *ToolGateway) {
		g.audit = a
	}
}

// WithMetrics records listing and call counters.
func WithMetrics(m *metrics.Recorder) GatewayOption {
	return func(g *ToolGateway) {
		g.metrics = m
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger zerolog.Logger) GatewayOption {
	return func(g *ToolGateway) {
		g.logger = logger
	}
}

// ToolGateway filters tool listings and authorizes tool calls against the
// effective scope of each request. Its configuration is read-only after
// construction, so one gateway serves any number of concurrent requests.
type ToolGateway struct {
	registry   *ToolRegistry
	catalogue  []string
	static     scope.Spec
	authorizer ToolAuthorizer
	caller     ToolCaller
	audit      *audit.Logger
	metrics    *metrics.Recorder
	logger     zerolog.Logger
	now        func() time.Time
}

// NewToolGateway creates a gateway over registry. static is the server-wide
// scope; pass scope.Unrestricted() when none is configured.
func NewToolGateway(
	registry *ToolRegistry,
	static scope.Spec,
	authorizer ToolAuthorizer,
	caller ToolCaller,
	opts ...GatewayOption,
) *ToolGateway {
	g := &ToolGateway{
		registry:   registry,
		catalogue:  registry.Names(),
		static:     static,
		authorizer: authorizer,
		caller:     caller,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Metrics returns the recorder the gateway observes into, or nil.
func (g *ToolGateway) Metrics() *metrics.Recorder {
	return g.metrics
}

// Mode returns the execution mode reported in call results.
func (g *ToolGateway) Mode() string {
	return resolvedMode(g.authorizer)
}

// Effective resolves the scope that applies to rc.
func (g *ToolGateway) Effective(rc RequestContext) scope.Effective {
	return scope.Resolve(g.static, rc.Scope, g.catalogue)
}

// ListTools returns the catalogue entries visible to rc, in catalogue order.
func (g *ToolGateway) ListTools(rc RequestContext) []ToolSpec {
	effective := g.Effective(rc)

	items := make([]ToolSpec, 0, effective.Len())
	for _, tool := range g.registry.List() {
		if effective.Contains(tool.Name) {
			items = append(items, tool)
		}
	}

	g.metrics.ObserveList(rc.Transport, string(effective.Source()), len(items))
	g.logger.Debug().
		Str("transport", rc.Transport).
		Str("request_id", rc.RequestID).
		Str("scope_source", string(effective.Source())).
		Int("tools", len(items)).
		Msg("listed tools")
	return items
}

// Authorize returns the tool named name when it is a member of the effective
// scope, and a *ToolNotFoundError otherwise.
func (g *ToolGateway) Authorize(rc RequestContext, name string) (ToolSpec, scope.Effective, error) {
	effective := g.Effective(rc)
	if !effective.Contains(name) {
		return ToolSpec{}, effective, &ToolNotFoundError{Name: name}
	}
	tool, ok := g.registry.Lookup(name)
	if !ok {
		return ToolSpec{}, effective, &ToolNotFoundError{Name: name}
	}
	return tool, effective, nil
}

// PreparedCall is a call that passed scope authorization and every policy
// gate and is ready to be forwarded to the execution engine.
type PreparedCall struct {
	gateway   *ToolGateway
	rc        RequestContext
	tool      ToolSpec
	source    scope.Source
	arguments map[string]any
	started   time.Time
}

// Tool returns the authorized tool.
func (p *PreparedCall) Tool() ToolSpec {
	return p.tool
}

// Prepare authorizes a call. Scope membership is checked first; the mode,
// confirmation, required-scope and argument gates only run for in-scope tools.
// A refused call is audited here and returns *ToolNotFoundError or *GateError.
func (g *ToolGateway) Prepare(rc RequestContext, name string, args map[string]any) (*PreparedCall, error) {
	started := g.now()

	tool, effective, err := g.Authorize(rc, name)
	if err != nil {
		g.metrics.ObserveRejection(rc.Transport, string(effective.Source()))
		g.complete(rc, name, string(effective.Source()), args, "rejected", err.Error(), http.StatusNotFound, started)
		g.logger.Info().
			Str("transport", rc.Transport).
			Str("request_id", rc.RequestID).
			Str("scope_source", string(effective.Source())).
			Msg("tool call rejected by scope")
		return nil, err
	}

	if err := g.checkGates(rc, tool, args); err != nil {
		g.metrics.ObserveCall(rc.Transport, tool.Name, "denied", 0)
		g.complete(rc, tool.Name, string(effective.Source()), args, "denied", err.Error(), err.StatusCode(), started)
		return nil, err
	}

	return &PreparedCall{
		gateway:   g,
		rc:        rc,
		tool:      tool,
		source:    effective.Source(),
		arguments: args,
		started:   started,
	}, nil
}

func (g *ToolGateway) checkGates(rc RequestContext, tool ToolSpec, args map[string]any) *GateError {
	if err := authorizeToolCall(g.authorizer, tool); err != nil {
		return &GateError{status: http.StatusForbidden, err: err}
	}
	if err := policy.RequireConfirmation(tool.Name, tool.ConfirmationRequired, args); err != nil {
		return &GateError{status: http.StatusBadRequest, err: err}
	}
	if err := requireToolScopes(tool, rc.Principal); err != nil {
		return &GateError{status: http.StatusForbidden, err: err}
	}
	if err := g.registry.ValidateArguments(tool.Name, args); err != nil {
		return &GateError{status: http.StatusBadRequest, err: err}
	}
	return nil
}

// Execute forwards the call to the execution engine. Engine failures are
// reported in the result with IsError set.
func (p *PreparedCall) Execute(ctx context.Context) CallToolResult {
	g := p.gateway
	mode := g.Mode()

	g.logger.Info().
		Str("transport", p.rc.Transport).
		Str("request_id", p.rc.RequestID).
		Str("tool", p.tool.Name).
		Msg("received tool call")

	var result CallToolResult
	if g.caller == nil {
		result = toolCallResultAccepted(p.tool.Name, mode)
	} else {
		payload, err := g.caller.Call(ctx, p.tool.Name, policy.StripConfirm(p.arguments))
		if err != nil {
			result = toolCallResultFromError(p.tool.Name, mode, err)
		} else {
			result = toolCallResultFromExecution(p.tool.Name, mode, payload)
		}
	}

	outcome, detail := "success", ""
	if result.IsError {
		outcome = "error"
		detail = toolErrorMessage(result.err)
	}
	elapsed := g.now().Sub(p.started)
	g.metrics.ObserveCall(p.rc.Transport, p.tool.Name, outcome, float64(elapsed.Microseconds())/1000)
	g.complete(p.rc, p.tool.Name, string(p.source), p.arguments, outcome, detail, result.StatusCode(), p.started)
	return result
}

// CallTool authorizes and executes one call. It returns *ToolNotFoundError
// when the tool is outside the effective scope and *GateError when an
// in-scope call fails a policy gate; the engine is not invoked in either case.
func (g *ToolGateway) CallTool(ctx context.Context, rc RequestContext, name string, args map[string]any) (CallToolResult, error) {
	prepared, err := g.Prepare(rc, name, args)
	if err != nil {
		return CallToolResult{}, err
	}
	return prepared.Execute(ctx), nil
}

func (g *ToolGateway) complete(
	rc RequestContext,
	tool, source string,
	args map[string]any,
	result, detail string,
	status int,
	started time.Time,
) {
	g.audit.Complete(audit.ToolCallCompletion{
		RequestID:    rc.RequestID,
		SessionID:    rc.SessionID,
		Transport:    rc.Transport,
		ToolName:     tool,
		Mode:         g.Mode(),
		CallerSub:    rc.Principal.Subject,
		ScopeSource:  source,
		Arguments:    args,
		Result:       result,
		ErrorDetail:  detail,
		Duration:     g.now().Sub(started),
		ResponseCode: status,
	})
}
