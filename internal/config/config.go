// Package config loads chamicore-toolgate configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

const (
	// TransportStdio runs MCP over stdin/stdout.
	TransportStdio = "stdio"
	// TransportHTTP runs MCP over HTTP with SSE tool streaming.
	TransportHTTP = "http"

	// ModeReadOnly allows only read capability tools.
	ModeReadOnly = "read-only"
	// ModeReadWrite allows read and write capability tools.
	ModeReadWrite = "read-write"

	// AllowedToolsEnv holds the static tool scope. Unset means no static scope;
	// set to an empty string it allows no tools at all.
	AllowedToolsEnv = "CHAMICORE_TOOLGATE_ALLOWED_TOOLS"

	defaultListenAddr   = ":27775"
	defaultAuditSubject = "chamicore.toolgate.tool_calls"
	defaultArtistsDB    = "artists.db"
	defaultCLIConfig    = "~/.chamicore/config.yaml"
)

// Config holds service runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	Transport string

	// Mode and EnableWrite form the dual control for write tools.
	Mode        string
	EnableWrite bool

	// AllowedTools is the static scope taken from AllowedToolsEnv.
	// AllowedToolsSet is false when the variable is not set at all.
	AllowedTools    scope.Spec
	AllowedToolsSet bool

	// ScopeFile is an optional YAML file carrying a static allowedTools list
	// and per-subject grants.
	ScopeFile string
	// GrantsDSN selects the Postgres grant source when set.
	GrantsDSN string
	// AllowScopeHeader lets callers narrow their own scope with MCP-Allowed-Tools.
	AllowScopeHeader bool

	NATSURL      string
	AuditSubject string

	ArtistsDBPath string

	// SessionTokens are bearer tokens accepted on HTTP in addition to the
	// resolved gateway token. Entries are "subject:token" or a bare token;
	// a bare opaque token is named by a hash of itself.
	SessionTokens []string

	AllowCLIConfigToken bool
	CLIConfigPath       string

	MetricsEnabled bool
	DevMode        bool
}

// Load returns configuration parsed from environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:          envOrDefault("CHAMICORE_TOOLGATE_LISTEN_ADDR", defaultListenAddr),
		LogLevel:            strings.ToLower(strings.TrimSpace(envOrDefault("CHAMICORE_TOOLGATE_LOG_LEVEL", "info"))),
		Transport:           strings.ToLower(strings.TrimSpace(envOrDefault("CHAMICORE_TOOLGATE_TRANSPORT", TransportStdio))),
		Mode:                strings.ToLower(strings.TrimSpace(envOrDefault("CHAMICORE_TOOLGATE_MODE", ModeReadOnly))),
		EnableWrite:         envBool("CHAMICORE_TOOLGATE_ENABLE_WRITE", false),
		ScopeFile:           strings.TrimSpace(os.Getenv("CHAMICORE_TOOLGATE_SCOPE_FILE")),
		GrantsDSN:           strings.TrimSpace(os.Getenv("CHAMICORE_TOOLGATE_GRANTS_DSN")),
		AllowScopeHeader:    envBool("CHAMICORE_TOOLGATE_ALLOW_SCOPE_HEADER", false),
		NATSURL:             strings.TrimSpace(os.Getenv("CHAMICORE_TOOLGATE_NATS_URL")),
		AuditSubject:        strings.TrimSpace(envOrDefault("CHAMICORE_TOOLGATE_AUDIT_SUBJECT", defaultAuditSubject)),
		ArtistsDBPath:       strings.TrimSpace(envOrDefault("CHAMICORE_TOOLGATE_ARTISTS_DB", defaultArtistsDB)),
		AllowCLIConfigToken: envBool("CHAMICORE_TOOLGATE_ALLOW_CLI_CONFIG_TOKEN", false),
		CLIConfigPath:       strings.TrimSpace(envOrDefault("CHAMICORE_TOOLGATE_CLI_CONFIG_PATH", defaultCLIConfig)),
		MetricsEnabled:      envBool("CHAMICORE_TOOLGATE_METRICS_ENABLED", true),
		DevMode:             envBool("CHAMICORE_TOOLGATE_DEV_MODE", false),
	}

	for _, token := range strings.Split(os.Getenv("CHAMICORE_TOOLGATE_SESSION_TOKENS"), ",") {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			cfg.SessionTokens = append(cfg.SessionTokens, trimmed)
		}
	}

	if raw, ok := os.LookupEnv(AllowedToolsEnv); ok {
		cfg.AllowedTools = scope.ParseList(raw)
		cfg.AllowedToolsSet = true
	}

	switch cfg.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return Config{}, fmt.Errorf("invalid CHAMICORE_TOOLGATE_TRANSPORT %q (allowed: %s|%s)", cfg.Transport, TransportStdio, TransportHTTP)
	}

	switch cfg.Mode {
	case ModeReadOnly, ModeReadWrite:
	default:
		return Config{}, fmt.Errorf("invalid CHAMICORE_TOOLGATE_MODE %q (allowed: %s|%s)", cfg.Mode, ModeReadOnly, ModeReadWrite)
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AuditSubject == "" {
		cfg.AuditSubject = defaultAuditSubject
	}

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		default:
			return defaultVal
		}
	}
	return parsed
}
