package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/httputil"
)

func registerMCPHTTPRoutes(r chi.Router, gateway *ToolGateway, version string, logger zerolog.Logger) {
	r.Route("/mcp/v1", func(r chi.Router) {
		r.Post("/initialize", handleInitializeHTTP(version))
		r.Get("/tools", handleListToolsHTTP(gateway))
		r.Post("/tools/call", handleCallToolHTTP(gateway))
		r.Post("/tools/call/sse", handleCallToolSSE(gateway, logger))
	})
}

func handleInitializeHTTP(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.RespondJSON(w, http.StatusOK, newInitializeResult(version))
	}
}

// handleContractHTTP serves the tool contract restricted to the caller's
// effective scope.
func handleContractHTTP(gateway *ToolGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tools := gateway.ListTools(requestContextFromHTTP(r, TransportHTTP))
		body, err := gateway.registry.ContractYAML(tools)
		if err != nil {
			httputil.RespondProblem(w, r, http.StatusInternalServerError, "rendering tool contract failed")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func handleListToolsHTTP(gateway *ToolGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tools := gateway.ListTools(requestContextFromHTTP(r, TransportHTTP))
		httputil.RespondJSON(w, http.StatusOK, describeTools(tools))
	}
}

func handleCallToolHTTP(gateway *ToolGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := parseCallToolRequest(w, r)
		if !ok {
			return
		}

		result, err := gateway.CallTool(r.Context(), requestContextFromHTTP(r, TransportHTTP), params.Name, params.Arguments)
		if err != nil {
			httputil.RespondProblem(w, r, toolErrorStatus(err), err.Error())
			return
		}
		if result.IsError {
			httputil.RespondProblem(w, r, result.StatusCode(), toolErrorMessage(result.err))
			return
		}
		httputil.RespondJSON(w, http.StatusOK, result)
	}
}

func handleCallToolSSE(gateway *ToolGateway, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := parseCallToolRequest(w, r)
		if !ok {
			return
		}

		prepared, err := gateway.Prepare(requestContextFromHTTP(r, TransportSSE), params.Name, params.Arguments)
		if err != nil {
			httputil.RespondProblem(w, r, toolErrorStatus(err), err.Error())
			return
		}
		tool := prepared.Tool()

		controller := http.NewResponseController(w)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		logger.Info().Str("transport", TransportSSE).Str("tool", tool.Name).Msg("streaming tool call")

		if err := writeSSEEvent(r.Context(), w, "accepted", map[string]any{
			"tool":      tool.Name,
			"status":    "accepted",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}); err != nil {
			logger.Warn().Err(err).Str("tool", tool.Name).Msg("client went away before execution")
			return
		}
		_ = controller.Flush()

		result := prepared.Execute(r.Context())
		if err := writeSSEEvent(r.Context(), w, "result", result); err != nil {
			logger.Warn().Err(err).Str("tool", tool.Name).Msg("failed to stream tool result")
			return
		}
		_ = controller.Flush()

		_ = writeSSEEvent(r.Context(), w, "done", map[string]any{"status": "done"})
		_ = controller.Flush()
	}
}

func parseCallToolRequest(w http.ResponseWriter, r *http.Request) (callToolParams, bool) {
	var params callToolParams
	if err := decodeJSONStrict(r, &params); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondProblem(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return callToolParams{}, false
		}
		httputil.RespondProblem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return callToolParams{}, false
	}
	if strings.TrimSpace(params.Name) == "" {
		httputil.RespondProblem(w, r, http.StatusBadRequest, "tool name is required")
		return callToolParams{}, false
	}
	return params, true
}

func writeSSEEvent(ctx context.Context, w http.ResponseWriter, event string, payload any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", strings.TrimSpace(event)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

func decodeJSONStrict(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("request must contain exactly one JSON object")
	}
	return nil
}
