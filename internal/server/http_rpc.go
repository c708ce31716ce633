package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/httputil"
)

// handleRPCHTTP serves JSON-RPC over POST /mcp. One request per body;
// notifications are acknowledged with 202 and no body.
func handleRPCHTTP(dispatcher *rpcDispatcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.RespondProblem(w, r, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			httputil.RespondProblem(w, r, http.StatusBadRequest, "reading request body failed")
			return
		}

		req, parseFailure := parseRPC(payload)
		if parseFailure != nil {
			httputil.RespondJSON(w, http.StatusOK, parseFailure)
			return
		}

		resp := dispatcher.handle(r.Context(), *req, requestContextFromHTTP(r, TransportHTTPRPC))
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if resp.Error != nil {
			logger.Debug().
				Str("request_id", httputil.RequestIDFromContext(r.Context())).
				Int("code", resp.Error.Code).
				Msg("json-rpc request failed")
		}
		httputil.RespondJSON(w, http.StatusOK, resp)
	}
}
