// Package server provides HTTP server setup for the logger service.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bugtracker/history-stack/common/middleware"
	"github.com/bugtracker/history-stack/common/tokens"
	"github.com/bugtracker/history-stack/logger/internal/handlers"
)

// NewRouter constructs a ServeMux with the logger admin routes registered.
func NewRouter(h *handlers.Handler, auth *middleware.Auth, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Log entries and the dead-letter queue are admin-only
	admins := auth.RequireRoles(tokens.RoleAdmin)

	mux.HandleFunc("GET /api/v1/logs/{day}/{type}", admins(h.GetLogs))
	mux.HandleFunc("GET /api/v1/logs/{day}/{type}/{logId}", admins(h.GetLog))
	mux.HandleFunc("PUT /api/v1/logs/{day}/{type}/{logId}", admins(h.UpdateLog))
	mux.HandleFunc("DELETE /api/v1/logs/{day}/{type}/{logId}", admins(h.DeleteLog))

	mux.HandleFunc("GET /api/v1/dlq", admins(h.DLQStats))
	mux.HandleFunc("GET /api/v1/dlq/messages", admins(h.DLQList))
	mux.HandleFunc("DELETE /api/v1/dlq", admins(h.DLQPurge))

	return middleware.RequestID(middleware.AccessLog(logger)(mux))
}
