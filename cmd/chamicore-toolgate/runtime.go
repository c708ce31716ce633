package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/api"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/config"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/grants"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/server"
)

// runtime holds what every command needs: the catalogue, the static scope
// and the grant source.
type runtime struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *server.ToolRegistry
	static   scope.Spec
	grants   grants.Source

	checks  []func(context.Context) error
	closers []func() error
}

// newRuntime loads the catalogue, static scope and grant source. base is the
// unscoped service logger; components derive their own from it.
func newRuntime(ctx context.Context, cfg config.Config, base zerolog.Logger) (*runtime, error) {
	logger := base.With().Str("component", "scope").Logger()
	registry, err := server.NewToolRegistry(api.ToolsContract)
	if err != nil {
		return nil, fmt.Errorf("parsing tool contract: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   base,
		registry: registry,
		static:   scope.Unrestricted(),
		grants:   grants.None{},
	}

	var scopeFile grants.ScopeFile
	if cfg.ScopeFile != "" {
		scopeFile, err = grants.LoadScopeFile(cfg.ScopeFile)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.AllowedToolsSet:
		rt.static = cfg.AllowedTools
	case scopeFile.AllowedTools.Restricted():
		rt.static = scopeFile.AllowedTools
	}
	if unknown := scope.Unknown(rt.static, registry.Names()); len(unknown) > 0 {
		logger.Warn().Strs("tools", unknown).Msg("static scope names tools that are not in the catalogue")
	}

	switch {
	case cfg.GrantsDSN != "":
		db, err := sql.Open("postgres", cfg.GrantsDSN)
		if err != nil {
			return nil, fmt.Errorf("opening grants database: %w", err)
		}
		source := grants.NewPostgresSource(db)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := source.Ping(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connecting to grants database: %w", err)
		}
		rt.grants = source
		rt.checks = append(rt.checks, source.Ping)
		rt.closers = append(rt.closers, db.Close)
		logger.Info().Msg("tool grants served from postgres")
	case len(scopeFile.Subjects) > 0:
		rt.grants = scopeFile.Subjects
		logger.Info().Int("subjects", len(scopeFile.Subjects)).Msg("tool grants loaded from scope file")
	}

	logger.Info().
		Str("static_scope", rt.static.String()).
		Int("catalogue", len(registry.Names())).
		Msg("tool scope initialized")
	return rt, nil
}

// ready runs every registered health check.
func (rt *runtime) ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var errs []error
	for _, check := range rt.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn().Err(err).Msg("closing resource failed")
		}
	}
}
