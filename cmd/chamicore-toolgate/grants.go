package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/config"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

var errGrantsReadOnly = errors.New("editing grants requires CHAMICORE_TOOLGATE_GRANTS_DSN")

// grantStore is a grant source that can also be edited.
type grantStore interface {
	Lookup(ctx context.Context, subject string) (scope.Spec, error)
	Put(ctx context.Context, subject string, spec scope.Spec) error
	Delete(ctx context.Context, subject string) error
}

// GrantsCmd edits the per-subject grants stored in Postgres.
type GrantsCmd struct {
	Set    GrantsSetCmd    `cmd:"" help:"Store the tools a subject may use"`
	Delete GrantsDeleteCmd `cmd:"" help:"Remove the grant stored for a subject"`
}

// GrantsSetCmd stores one subject's grant.
type GrantsSetCmd struct {
	Subject      string   `arg:"" help:"Caller subject the grant applies to"`
	Tools        []string `arg:"" optional:"" help:"Tool names the subject may use"`
	None         bool     `xor:"kind" help:"Allow the subject no tools at all"`
	Unrestricted bool     `xor:"kind" help:"Store no request scope, leaving the subject to the static scope and catalogue"`
}

// Run implements the grants set command.
func (c GrantsSetCmd) Run() error {
	return withGrantStore(func(ctx context.Context, store grantStore, rt *runtime) error {
		return c.apply(ctx, os.Stdout, store, rt.registry.Names(), rt.logger)
	})
}

func (c GrantsSetCmd) spec() (scope.Spec, error) {
	var names []string
	for _, tool := range c.Tools {
		names = append(names, scope.ParseList(tool).Names()...)
	}
	switch {
	case (c.None || c.Unrestricted) && len(names) > 0:
		return scope.Spec{}, errors.New("tool names cannot be combined with --none or --unrestricted")
	case c.Unrestricted:
		return scope.Unrestricted(), nil
	case c.None:
		return scope.Restrict(), nil
	case len(names) == 0:
		return scope.Spec{}, errors.New("name at least one tool, or pass --none or --unrestricted")
	}
	return scope.Restrict(names...), nil
}

func (c GrantsSetCmd) apply(ctx context.Context, w io.Writer, store grantStore, catalogue []string, logger zerolog.Logger) error {
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return errors.New("subject is required")
	}
	spec, err := c.spec()
	if err != nil {
		return err
	}
	if unknown := scope.Unknown(spec, catalogue); len(unknown) > 0 {
		logger.Warn().Str("subject", subject).Strs("tools", unknown).Msg("grant names tools that are not in the catalogue")
	}

	if err := store.Put(ctx, subject, spec); err != nil {
		return err
	}
	stored, err := store.Lookup(ctx, subject)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "grant for %s: %s\n", subject, stored)
	return nil
}

// GrantsDeleteCmd removes one subject's grant.
type GrantsDeleteCmd struct {
	Subject string `arg:"" help:"Caller subject whose grant is removed"`
}

// Run implements the grants delete command.
func (c GrantsDeleteCmd) Run() error {
	return withGrantStore(func(ctx context.Context, store grantStore, _ *runtime) error {
		return c.apply(ctx, os.Stdout, store)
	})
}

func (c GrantsDeleteCmd) apply(ctx context.Context, w io.Writer, store grantStore) error {
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return errors.New("subject is required")
	}
	if err := store.Delete(ctx, subject); err != nil {
		return err
	}
	fmt.Fprintf(w, "grant for %s removed\n", subject)
	return nil
}

func withGrantStore(fn func(context.Context, grantStore, *runtime) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.GrantsDSN == "" {
		return errGrantsReadOnly
	}
	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, setupLogging(cfg).Level(zerolog.WarnLevel))
	if err != nil {
		return err
	}
	defer rt.close()

	store, ok := rt.grants.(grantStore)
	if !ok {
		return errGrantsReadOnly
	}
	return fn(ctx, store, rt)
}
