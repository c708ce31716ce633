package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/grants"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/httputil"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

// AllowedToolsHeader lets a caller narrow its own request scope when the
// server enables it. The value is a comma-separated tool list; an empty value
// narrows to no tools.
const AllowedToolsHeader = "MCP-Allowed-Tools"

type principalKey struct{}

func withPrincipal(ctx context.Context, p SessionPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) SessionPrincipal {
	p, _ := ctx.Value(principalKey{}).(SessionPrincipal)
	return p
}

// sessionScope authenticates the caller, looks up its tool grant and attaches
// the grant as the request scope. With allowHeader set, AllowedToolsHeader
// is applied on top of the grant and can only remove tools from it.
func sessionScope(authn SessionAuthenticator, source grants.Source, allowHeader bool, logger zerolog.Logger) func(http.Handler) http.Handler {
	if source == nil {
		source = grants.None{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authenticateHTTP(r, authn)
			if err != nil {
				status, detail := authFailureResponse(err)
				logger.Warn().
					Str("request_id", httputil.RequestIDFromContext(r.Context())).
					Str("path", r.URL.Path).
					Msg(detail)
				httputil.RespondProblem(w, r, status, detail)
				return
			}

			granted, err := source.Lookup(r.Context(), principal.Subject)
			if err != nil {
				logger.Error().Err(err).Str("caller_subject", principal.Subject).Msg("tool grant lookup failed")
				httputil.RespondProblem(w, r, http.StatusServiceUnavailable, "tool grants are unavailable")
				return
			}

			ctx := withPrincipal(r.Context(), principal)
			ctx = scope.WithRequest(ctx, granted)

			if values, ok := r.Header[http.CanonicalHeaderKey(AllowedToolsHeader)]; ok && allowHeader {
				requested := scope.ParseList(strings.Join(values, ","))
				ctx = scope.WithRequest(ctx, scope.FromContext(ctx).Narrow(requested))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireOperator admits only callers holding the admin OAuth scope. It does
// not attach a tool scope.
func requireOperator(authn SessionAuthenticator, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authenticateHTTP(r, authn)
			if err != nil {
				status, detail := authFailureResponse(err)
				httputil.RespondProblem(w, r, status, detail)
				return
			}
			if !slices.Contains(principal.Scopes, policy.AdminScope) {
				logger.Warn().
					Str("caller_subject", principal.Subject).
					Str("path", r.URL.Path).
					Msg("operator route refused")
				httputil.RespondProblem(w, r, http.StatusForbidden, "admin scope required")
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

func authenticateHTTP(r *http.Request, authn SessionAuthenticator) (SessionPrincipal, error) {
	if authn == nil {
		return SessionPrincipal{}, fmt.Errorf("%w; %s", ErrSessionTokenMissing, tokenHint)
	}
	return authn.AuthenticateHTTP(r)
}

func authFailureResponse(err error) (int, string) {
	if err == nil {
		return http.StatusUnauthorized, "unauthorized"
	}
	switch {
	case errors.Is(err, ErrSessionTokenMissing):
		return http.StatusUnauthorized, "MCP session token is not configured; " + tokenHint
	case errors.Is(err, ErrBearerTokenMissing):
		return http.StatusUnauthorized, "missing or malformed Authorization header; expected Bearer <token>"
	case errors.Is(err, ErrBearerTokenInvalid):
		return http.StatusUnauthorized, "invalid bearer token for MCP session"
	default:
		return http.StatusUnauthorized, err.Error()
	}
}

// requestContextFromHTTP collects what sessionScope attached to r.
func requestContextFromHTTP(r *http.Request, transport string) RequestContext {
	ctx := r.Context()
	requestID := httputil.RequestIDFromContext(ctx)
	return RequestContext{
		RequestID: requestID,
		SessionID: sessionIDFromHTTPRequest(r, requestID),
		Transport: transport,
		Principal: principalFromContext(ctx),
		Scope:     scope.FromContext(ctx),
	}
}

func sessionIDFromHTTPRequest(r *http.Request, fallback string) string {
	if r == nil {
		return strings.TrimSpace(fallback)
	}
	if sessionID := strings.TrimSpace(r.Header.Get("MCP-Session-ID")); sessionID != "" {
		return sessionID
	}
	if sessionID := strings.TrimSpace(r.Header.Get("X-Session-ID")); sessionID != "" {
		return sessionID
	}
	return strings.TrimSpace(fallback)
}
