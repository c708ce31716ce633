package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/config"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

// ToolsCmd prints the catalogue and what a subject would be allowed to call.
type ToolsCmd struct {
	Subject string `help:"Resolve the scope for this caller subject using the configured grants"`
}

// Run implements the tools command.
func (c ToolsCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, setupLogging(cfg).Level(zerolog.WarnLevel))
	if err != nil {
		return err
	}
	defer rt.close()

	return c.print(ctx, os.Stdout, rt)
}

func (c ToolsCmd) print(ctx context.Context, w io.Writer, rt *runtime) error {
	request := scope.Unrestricted()
	if subject := strings.TrimSpace(c.Subject); subject != "" {
		granted, err := rt.grants.Lookup(ctx, subject)
		if err != nil {
			return fmt.Errorf("looking up grant for %q: %w", subject, err)
		}
		request = granted
	}

	effective := scope.Resolve(rt.static, request, rt.registry.Names())
	fmt.Fprintf(w, "static scope:  %s\n", rt.static)
	fmt.Fprintf(w, "request scope: %s\n", request)
	fmt.Fprintf(w, "effective (%s):\n", effective.Source())
	for _, tool := range rt.registry.List() {
		marker := " "
		if effective.Contains(tool.Name) {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %-16s %-6s %s\n", marker, tool.Name, tool.Capability, tool.Description)
	}
	return nil
}
