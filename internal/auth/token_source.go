// Package auth resolves the session token MCP callers must present.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenSource identifies where a token was resolved from.
type TokenSource string

const (
	TokenSourceGatewayEnv TokenSource = "chamicore_toolgate_token"
	TokenSourceSharedEnv  TokenSource = "chamicore_token"
	TokenSourceCLIConfig  TokenSource = "cli_config"
)

const (
	// GatewayTokenEnv holds the toolgate session token.
	GatewayTokenEnv = "CHAMICORE_TOOLGATE_TOKEN"
	// SharedTokenEnv holds the token shared by all Chamicore clients.
	SharedTokenEnv = "CHAMICORE_TOKEN"

	defaultCLIConfigPath = "~/.chamicore/config.yaml"
)

// envSources are consulted in order before the CLI config file.
var envSources = []struct {
	env    string
	source TokenSource
}{
	{GatewayTokenEnv, TokenSourceGatewayEnv},
	{SharedTokenEnv, TokenSourceSharedEnv},
}

// TokenResolution is the resolved token and where it came from. A zero
// value means no source produced a token.
type TokenResolution struct {
	Token  string
	Source TokenSource
}

// TokenSourceOptions controls token resolution.
type TokenSourceOptions struct {
	// AllowCLIConfigToken opts in to reading auth.token from the chamicore
	// CLI config file.
	AllowCLIConfigToken bool
	CLIConfigPath       string
}

// ResolveToken returns the first non-empty token from CHAMICORE_TOOLGATE_TOKEN,
// CHAMICORE_TOKEN and, when allowed, the CLI config file. A missing config
// file is not an error.
func ResolveToken(opts TokenSourceOptions) (TokenResolution, error) {
	for _, candidate := range envSources {
		if token := strings.TrimSpace(os.Getenv(candidate.env)); token != "" {
			return TokenResolution{Token: token, Source: candidate.source}, nil
		}
	}
	if !opts.AllowCLIConfigToken {
		return TokenResolution{}, nil
	}

	token, err := readCLIConfigToken(opts.CLIConfigPath)
	if err != nil || token == "" {
		return TokenResolution{}, err
	}
	return TokenResolution{Token: token, Source: TokenSourceCLIConfig}, nil
}

func readCLIConfigToken(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultCLIConfigPath
	}

	data, err := os.ReadFile(expandHome(path))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading CLI config token source: %w", err)
	}

	var doc struct {
		Auth struct {
			Token string `yaml:"token"`
		} `yaml:"auth"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decoding CLI config token source: %w", err)
	}
	return strings.TrimSpace(doc.Auth.Token), nil
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return filepath.Clean(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
