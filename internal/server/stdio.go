package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/grants"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

// StdioOptions configures one stdio session.
type StdioOptions struct {
	Gateway       *ToolGateway
	Authenticator SessionAuthenticator
	Grants        grants.Source
	Version       string
	Logger        zerolog.Logger
}

// stdioSession is the identity and request scope shared by every message on
// one stdin/stdout connection.
type stdioSession struct {
	id        string
	principal SessionPrincipal
	scope     scope.Spec
}

func openStdioSession(ctx context.Context, opts StdioOptions) (stdioSession, error) {
	session := stdioSession{id: uuid.NewString()}

	if opts.Authenticator != nil {
		principal, err := opts.Authenticator.AuthenticateStdio()
		if err != nil {
			return stdioSession{}, fmt.Errorf("authenticating stdio session: %w", err)
		}
		session.principal = principal
	}

	source := opts.Grants
	if source == nil {
		source = grants.None{}
	}
	granted, err := source.Lookup(ctx, session.principal.Subject)
	if err != nil {
		return stdioSession{}, fmt.Errorf("loading tool grant for %q: %w", session.principal.Subject, err)
	}
	session.scope = granted
	return session, nil
}

// RunStdio handles MCP requests over stdin/stdout using JSON-RPC line-delimited messages.
func RunStdio(ctx context.Context, in io.Reader, out io.Writer, opts StdioOptions) error {
	session, err := openStdioSession(ctx, opts)
	if err != nil {
		return err
	}
	logger := opts.Logger.With().Str("transport", TransportStdio).Str("session_id", session.id).Logger()
	logger.Info().
		Str("caller_subject", session.principal.Subject).
		Str("request_scope", session.scope.String()).
		Msg("stdio session opened")

	dispatcher := &rpcDispatcher{gateway: opts.Gateway, version: opts.Version}

	scanner := bufio.NewScanner(in)
	// Allow larger requests in stdio mode (up to 4 MiB per message).
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req, parseFailure := parseRPC([]byte(line))
		if parseFailure != nil {
			if writeErr := writeRPC(writer, parseFailure); writeErr != nil {
				return writeErr
			}
			continue
		}

		reqCtx := scope.WithRequest(ctx, session.scope)
		rc := RequestContext{
			RequestID: strings.Trim(string(req.ID), `"`),
			SessionID: session.id,
			Transport: TransportStdio,
			Principal: session.principal,
			Scope:     scope.FromContext(reqCtx),
		}
		if resp := dispatcher.handle(reqCtx, *req, rc); resp != nil {
			if err := writeRPC(writer, resp); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdio request: %w", err)
	}
	return nil
}

func writeRPC(w *bufio.Writer, resp *rpcResponse) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding rpc response: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("writing rpc response: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing rpc newline: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing rpc response: %w", err)
	}
	return nil
}
