// Package main is the entry point for the chamicore-toolgate service.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// CLI is the command line surface. Configuration itself comes from the
// CHAMICORE_TOOLGATE_* environment.
type CLI struct {
	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the tool gateway on the configured transport"`
	Tools   ToolsCmd   `cmd:"" help:"Print the tool catalogue and the effective scope"`
	Grants  GrantsCmd  `cmd:"" help:"Edit per-subject tool grants in Postgres"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd prints build metadata.
type VersionCmd struct{}

// Run implements the version command.
func (VersionCmd) Run() error {
	fmt.Printf("chamicore-toolgate %s (%s, built %s)\n", version, commit, buildDate)
	return nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("chamicore-toolgate"),
		kong.Description("MCP tool gateway with per-session tool scopes"),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// setupLogging configures the global zerolog logger. Logs always go to
// stderr: stdout carries the stdio protocol.
func setupLogging(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	var base zerolog.Logger
	if cfg.DevMode {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		base = zerolog.New(os.Stderr)
	}
	log.Logger = base.With().Timestamp().Str("service", "toolgate").Str("version", version).Logger()
	return log.Logger
}
