package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/httputil"
)

func registerHealthRoutes(r chi.Router, version, commit, buildDate string, ready func() error) {
	r.Method(http.MethodGet, "/health", httputil.HealthHandler())
	r.Method(http.MethodGet, "/readiness", httputil.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/version", httputil.VersionHandler(version, commit, buildDate))
}
