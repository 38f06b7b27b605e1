// Package server provides HTTP server setup for the user directory.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bugtracker/history-stack/common/middleware"
	"github.com/bugtracker/history-stack/common/tokens"
	"github.com/bugtracker/history-stack/userdir/internal/handlers"
)

// NewRouter constructs a ServeMux with the user directory routes registered.
func NewRouter(h *handlers.Handler, auth *middleware.Auth, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/users", auth.RequireRoles()(h.LookupUsers))
	mux.HandleFunc("PUT /api/v1/users/{id}", auth.RequireRoles(tokens.RoleAdmin)(h.PutUser))

	return middleware.RequestID(middleware.AccessLog(logger)(mux))
}
