package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/grants"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/httputil"
)

const maxRequestBody = 1 << 20

// HTTPOptions configures the HTTP transport.
type HTTPOptions struct {
	Version   string
	Commit    string
	BuildDate string

	Gateway       *ToolGateway
	Authenticator SessionAuthenticator
	Grants        grants.Source

	// AllowScopeHeader enables narrowing with AllowedToolsHeader.
	AllowScopeHeader bool

	// Ready reports readiness of the backing stores.
	Ready func() error

	Logger zerolog.Logger
}

// HTTPServer wraps MCP HTTP routing state.
type HTTPServer struct {
	opts       HTTPOptions
	dispatcher *rpcDispatcher
}

// NewHTTPServer creates an HTTP transport server with health and MCP routes.
func NewHTTPServer(opts HTTPOptions) *HTTPServer {
	return &HTTPServer{
		opts:       opts,
		dispatcher: &rpcDispatcher{gateway: opts.Gateway, version: opts.Version},
	}
}

// Router builds the MCP HTTP router.
func (s *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestLogger(s.opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(httputil.SecureHeaders)
	r.Use(httputil.BodyLimit(maxRequestBody))
	r.Use(httputil.APIVersion("mcp/v1"))
	r.Use(httputil.CacheControl)

	registerHealthRoutes(r, s.opts.Version, s.opts.Commit, s.opts.BuildDate, s.opts.Ready)

	// Metrics labels name tools, so only operators may scrape them.
	if recorder := s.opts.Gateway.Metrics(); recorder != nil {
		r.With(requireOperator(s.opts.Authenticator, s.opts.Logger)).Method(http.MethodGet, "/metrics", recorder.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(sessionScope(s.opts.Authenticator, s.opts.Grants, s.opts.AllowScopeHeader, s.opts.Logger))
		r.Get("/api/tools.yaml", handleContractHTTP(s.opts.Gateway))
		r.Post("/mcp", handleRPCHTTP(s.dispatcher, s.opts.Logger))
		registerMCPHTTPRoutes(r, s.opts.Gateway, s.opts.Version, s.opts.Logger)
	})

	return r
}
