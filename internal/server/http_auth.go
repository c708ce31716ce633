package server

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/zeebo/blake3"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
)

const tokenHint = "set CHAMICORE_TOOLGATE_TOKEN or CHAMICORE_TOKEN"

var (
	// ErrSessionTokenMissing indicates no MCP session token was configured.
	ErrSessionTokenMissing = errors.New("mcp session token is not configured")
	// ErrBearerTokenMissing indicates Authorization header did not contain a bearer token.
	ErrBearerTokenMissing = errors.New("missing or malformed Authorization bearer token")
	// ErrBearerTokenInvalid indicates provided bearer token did not match configured session token.
	ErrBearerTokenInvalid = errors.New("invalid bearer token for MCP session")
)

// SessionPrincipal carries caller identity for tool policy checks.
type SessionPrincipal struct {
	Subject string
	Scopes  []string
}

// SessionAuthenticator authenticates HTTP and stdio MCP calls.
type SessionAuthenticator interface {
	AuthenticateHTTP(r *http.Request) (SessionPrincipal, error)
	AuthenticateStdio() (SessionPrincipal, error)
}

// TokenSessionAuthenticator validates incoming bearer tokens against the
// configured session tokens and exposes the principal each token resolves to.
type TokenSessionAuthenticator struct {
	primary    string
	principals map[string]SessionPrincipal
}

// primarySubject is the subject of an opaque primary token.
const primarySubject = "toolgate-session"

// NewTokenSessionAuthenticator creates a new session authenticator. token is
// the gateway's own session token and is also the stdio identity; extra
// tokens are accepted on HTTP only.
//
// Extra entries are either a bare token or "subject:token". The subject of a
// token, and so the grant its calls resolve, is taken from:
// - the configured subject prefix,
// - the JWT sub claim,
// - a stable hash of the token for bare opaque extras,
// - "toolgate-session" for an opaque primary token.
//
// JWT tokens carry their scope claims; opaque tokens get the admin scope.
func NewTokenSessionAuthenticator(token string, extra ...string) *TokenSessionAuthenticator {
	a := &TokenSessionAuthenticator{
		primary:    strings.TrimSpace(token),
		principals: make(map[string]SessionPrincipal, 1+len(extra)),
	}
	if a.primary != "" {
		a.principals[a.primary] = deriveSessionPrincipal(a.primary, "", primarySubject)
	}
	for _, entry := range extra {
		subject, value := parseSessionToken(entry)
		if value == "" {
			continue
		}
		if _, exists := a.principals[value]; exists {
			continue
		}
		a.principals[value] = deriveSessionPrincipal(value, subject, opaqueSubject(value))
	}
	return a
}

// parseSessionToken splits a "subject:token" entry. Bearer tokens (JWTs,
// base64 secrets) never contain a colon, so an entry without one is a bare
// token.
func parseSessionToken(entry string) (subject, token string) {
	entry = strings.TrimSpace(entry)
	prefix, rest, ok := strings.Cut(entry, ":")
	prefix, rest = strings.TrimSpace(prefix), strings.TrimSpace(rest)
	if !ok || prefix == "" || rest == "" || strings.ContainsAny(prefix, " \t") {
		return "", entry
	}
	return prefix, rest
}

// opaqueSubject names a bare opaque token without revealing it.
func opaqueSubject(token string) string {
	sum := blake3.Sum256([]byte(token))
	return "session-" + hex.EncodeToString(sum[:6])
}

// AuthenticateHTTP validates the Authorization bearer token.
func (a *TokenSessionAuthenticator) AuthenticateHTTP(r *http.Request) (SessionPrincipal, error) {
	if len(a.principals) == 0 {
		return SessionPrincipal{}, fmt.Errorf("%w; %s", ErrSessionTokenMissing, tokenHint)
	}
	presented := parseBearerToken(r.Header.Get("Authorization"))
	if presented == "" {
		return SessionPrincipal{}, ErrBearerTokenMissing
	}
	principal, ok := a.principals[presented]
	if !ok {
		return SessionPrincipal{}, ErrBearerTokenInvalid
	}
	return clonePrincipal(principal), nil
}

// AuthenticateStdio validates configured stdio session token presence.
func (a *TokenSessionAuthenticator) AuthenticateStdio() (SessionPrincipal, error) {
	if a.primary == "" {
		return SessionPrincipal{}, fmt.Errorf("%w; %s, or enable CHAMICORE_TOOLGATE_ALLOW_CLI_CONFIG_TOKEN", ErrSessionTokenMissing, tokenHint)
	}
	return clonePrincipal(a.principals[a.primary]), nil
}

func clonePrincipal(p SessionPrincipal) SessionPrincipal {
	var clonedScopes []string
	if p.Scopes != nil {
		clonedScopes = make([]string, len(p.Scopes))
		copy(clonedScopes, p.Scopes)
	}
	return SessionPrincipal{
		Subject: p.Subject,
		Scopes:  clonedScopes,
	}
}

func deriveSessionPrincipal(token, configured, fallback string) SessionPrincipal {
	principal := SessionPrincipal{
		Subject: fallback,
		Scopes:  []string{policy.AdminScope},
	}
	if subject, scopes, ok := parseJWTPrincipal(token); ok {
		if subject != "" {
			principal.Subject = subject
		}
		principal.Scopes = nil
		if len(scopes) > 0 {
			principal.Scopes = scopes
		}
	}
	if configured != "" {
		principal.Subject = configured
	}
	return principal
}

func parseBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// sessionClaims are the JWT claims a session principal is derived from. The
// signature is not checked: tokens are matched against configured values
// before their claims are read.
type sessionClaims struct {
	Subject string    `json:"sub"`
	Scope   claimList `json:"scope"`
	Scopes  claimList `json:"scopes"`
	SCP     claimList `json:"scp"`
	Roles   claimList `json:"roles"`
}

// claimList accepts a space separated string or a JSON array of strings.
type claimList []string

func (c *claimList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = strings.Fields(single)
		return nil
	}
	var many []any
	if err := json.Unmarshal(data, &many); err != nil {
		// Unknown shapes are ignored rather than rejecting the token.
		*c = nil
		return nil
	}
	out := make([]string, 0, len(many))
	for _, item := range many {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	*c = out
	return nil
}

func parseJWTPrincipal(token string) (string, []string, bool) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return "", nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, false
	}
	var claims sessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", nil, false
	}

	scopes := policy.NormalizeList(claims.Scope)
	if len(scopes) == 0 {
		scopes = policy.NormalizeList(claims.Scopes)
	}
	if len(scopes) == 0 {
		scopes = policy.NormalizeList(claims.SCP)
	}
	if slices.Contains(policy.NormalizeList(claims.Roles), policy.AdminScope) && !slices.Contains(scopes, policy.AdminScope) {
		scopes = append(scopes, policy.AdminScope)
	}
	return strings.TrimSpace(claims.Subject), scopes, true
}
