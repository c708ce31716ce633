package server

import (
	"fmt"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
)

// ToolAuthorizer is the mode gate applied to in-scope tool calls.
type ToolAuthorizer interface {
	Mode() string
	AuthorizeTool(name, capability string) error
}

func authorizeToolCall(authorizer ToolAuthorizer, tool ToolSpec) error {
	if authorizer == nil {
		return nil
	}
	if err := authorizer.AuthorizeTool(tool.Name, tool.Capability); err != nil {
		return fmt.Errorf("tool authorization denied: %w", err)
	}
	return nil
}

func resolvedMode(authorizer ToolAuthorizer) string {
	if authorizer == nil {
		return policy.ModeReadOnly
	}
	return authorizer.Mode()
}

func requireToolScopes(tool ToolSpec, principal SessionPrincipal) error {
	return policy.RequireScopes(tool.Name, tool.RequiredScopes, principal.Scopes)
}
