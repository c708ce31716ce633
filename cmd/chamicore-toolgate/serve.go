package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/artists"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/audit"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/auth"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/config"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/metrics"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/server"
)

// ServeCmd runs the gateway.
type ServeCmd struct{}

// Run implements the serve command.
func (ServeCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	baseLogger := setupLogging(cfg)
	logger := baseLogger.With().Str("component", "main").Logger()
	logger.Info().Str("transport", cfg.Transport).Msg("starting chamicore-toolgate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, baseLogger)
	if err != nil {
		return err
	}
	defer rt.close()

	modeGuard, err := policy.NewGuard(cfg.Mode, cfg.EnableWrite)
	if err != nil {
		return fmt.Errorf("invalid mode configuration: %w", err)
	}

	resolvedToken, err := auth.ResolveToken(auth.TokenSourceOptions{
		AllowCLIConfigToken: cfg.AllowCLIConfigToken,
		CLIConfigPath:       cfg.CLIConfigPath,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve token source: %w", err)
	}
	if resolvedToken.Token == "" {
		logger.Warn().Msg("no session token resolved from CHAMICORE_TOOLGATE_TOKEN, CHAMICORE_TOKEN, or CLI config")
	} else {
		logger.Info().Str("token_source", string(resolvedToken.Source)).Msg("resolved session token source")
	}
	authenticator := server.NewTokenSessionAuthenticator(resolvedToken.Token, cfg.SessionTokens...)

	store, err := artists.Open(ctx, cfg.ArtistsDBPath)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, store.Close)
	rt.checks = append(rt.checks, store.Ping)
	if cfg.DevMode {
		seeded, err := store.Seed(ctx, artists.SampleArtists)
		if err != nil {
			return fmt.Errorf("seeding sample artists: %w", err)
		}
		logger.Info().Int("artists", seeded).Msg("dev mode sample data loaded")
	}

	var auditOpts []audit.Option
	if cfg.NATSURL != "" {
		publisher, err := audit.NewNATSPublisher(cfg.NATSURL, cfg.AuditSubject)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, publisher.Close)
		rt.checks = append(rt.checks, func(context.Context) error { return publisher.Ping() })
		auditOpts = append(auditOpts, audit.WithPublisher(publisher))
		logger.Info().Str("subject", publisher.Subject()).Msg("publishing audit events to NATS")
	}

	var recorder *metrics.Recorder
	if cfg.MetricsEnabled {
		recorder = metrics.New()
	}

	gateway := server.NewToolGateway(
		rt.registry,
		rt.static,
		modeGuard,
		artists.NewRunner(store),
		server.WithAudit(audit.NewLogger(baseLogger, auditOpts...)),
		server.WithMetrics(recorder),
		server.WithLogger(baseLogger.With().Str("component", "gateway").Logger()),
	)
	logger.Info().Str("mode", modeGuard.Mode()).Bool("write_enabled", cfg.EnableWrite).Msg("execution policy initialized")

	switch cfg.Transport {
	case config.TransportStdio:
		return serveStdio(ctx, cancel, rt, gateway, authenticator, logger)
	case config.TransportHTTP:
		return serveHTTP(cancel, rt, gateway, authenticator, logger)
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func serveStdio(ctx context.Context, cancel context.CancelFunc, rt *runtime, gateway *server.ToolGateway, authn server.SessionAuthenticator, logger zerolog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := server.RunStdio(ctx, os.Stdin, os.Stdout, server.StdioOptions{
		Gateway:       gateway,
		Authenticator: authn,
		Grants:        rt.grants,
		Version:       version,
		Logger:        rt.logger.With().Str("component", "stdio").Logger(),
	})
	if err != nil {
		return fmt.Errorf("stdio runtime stopped with error: %w", err)
	}
	logger.Info().Msg("stdio runtime stopped")
	return nil
}

func serveHTTP(cancel context.CancelFunc, rt *runtime, gateway *server.ToolGateway, authn server.SessionAuthenticator, logger zerolog.Logger) error {
	httpServer := server.NewHTTPServer(server.HTTPOptions{
		Version:          version,
		Commit:           commit,
		BuildDate:        buildDate,
		Gateway:          gateway,
		Authenticator:    authn,
		Grants:           rt.grants,
		AllowScopeHeader: rt.cfg.AllowScopeHeader,
		Ready:            rt.ready,
		Logger:           rt.logger.With().Str("component", "http").Logger(),
	})
	srv := &http.Server{
		Addr:              rt.cfg.ListenAddr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE streams stay open until the tool finishes.
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", rt.cfg.ListenAddr).Msg("HTTP server listening")
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server error")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	if serveErr != nil {
		return serveErr
	}
	logger.Info().Msg("server stopped gracefully")
	return nil
}
