// Package server provides HTTP server setup for the versioning service.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bugtracker/history-stack/common/middleware"
	"github.com/bugtracker/history-stack/common/tokens"
	"github.com/bugtracker/history-stack/versioning/internal/handlers"
)

// NewRouter constructs a ServeMux with versioning API routes registered.
func NewRouter(h *handlers.Handler, auth *middleware.Auth, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	members := auth.RequireRoles(tokens.RoleDeveloper, tokens.RoleProjectManager, tokens.RoleAdmin)
	admins := auth.RequireRoles(tokens.RoleAdmin)

	mux.HandleFunc("GET /api/v1/versions/{type}/{itemId}", members(h.GetItemVersions))
	mux.HandleFunc("GET /api/v1/versions/{type}/{itemId}/{versionId}", members(h.GetItemVersion))
	mux.HandleFunc("DELETE /api/v1/versions/{type}/{itemId}/versions", members(h.DeleteItemVersions))
	mux.HandleFunc("DELETE /api/v1/versions/{type}/{itemId}", admins(h.DeleteItem))

	return middleware.RequestID(middleware.AccessLog(logger)(mux))
}
