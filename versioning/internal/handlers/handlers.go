// Package handlers provides the HTTP facade over the version history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/httputil"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/middleware"
	"github.com/bugtracker/history-stack/versioning/internal/metrics"
	"github.com/bugtracker/history-stack/versioning/internal/models"
	"github.com/bugtracker/history-stack/versioning/internal/repository"
	"github.com/bugtracker/history-stack/versioning/internal/service"
)

// VersionService is implemented by *service.Service.
type VersionService interface {
	GetItemVersion(ctx context.Context, itemType, itemID, versionID string) (*models.VersionEnvelope, error)
	GetItemVersions(ctx context.Context, itemType, itemID string, limit int, startAfter string) (*models.VersionPage, error)
	DeleteItemVersions(ctx context.Context, itemType, itemID string, versionIDs []string) error
	DeleteItem(ctx context.Context, itemType, itemID string) error
	Ping(ctx context.Context) error
}

// LogSink receives one log entry per API operation.
type LogSink interface {
	Publish(ctx context.Context, entry events.LogEntry) error
}

// Handler provides HTTP handlers for the versioning service
type Handler struct {
	svc    VersionService
	logs   LogSink
	broker messaging.Pinger
	logger *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(svc VersionService, logs LogSink) *Handler {
	return &Handler{
		svc:    svc,
		logs:   logs,
		logger: slog.Default().With(slog.String("component", "version-api")),
	}
}

// WithBroker makes readiness depend on the broker connection.
func (h *Handler) WithBroker(p messaging.Pinger) *Handler {
	h.broker = p
	return h
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck handles GET /readyz
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "store": err.Error()})
		return
	}
	if h.broker != nil {
		if status := messaging.CheckHealth(r.Context(), h.broker); !status.Healthy() {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "broker": status.Error})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GetItemVersion handles GET /api/v1/versions/{type}/{itemId}/{versionId}
func (h *Handler) GetItemVersion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemType, itemID, versionID := r.PathValue("type"), r.PathValue("itemId"), r.PathValue("versionId")

	env, err := h.svc.GetItemVersion(r.Context(), itemType, itemID, versionID)
	if err != nil {
		h.fail(w, r, "get_version", start, "Failed to retrieve item version", err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "Item version retrieved", env)
	h.record(r, "get_version", events.LogInfo, http.StatusOK, start, "Item version retrieved",
		map[string]any{"itemId": itemID, "itemType": itemType, "versionId": versionID})
}

// GetItemVersions handles GET /api/v1/versions/{type}/{itemId}?limit=N&startAfter=<id>
func (h *Handler) GetItemVersions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemType, itemID := r.PathValue("type"), r.PathValue("itemId")

	page, err := httputil.ParseCursorPage(r, service.DefaultPageSize)
	if err != nil {
		h.fail(w, r, "list_versions", start, "Failed to retrieve item versions",
			&service.ValidationError{Field: "limit", Reason: err.Error()})
		return
	}

	result, err := h.svc.GetItemVersions(r.Context(), itemType, itemID, page.Limit, page.StartAfter)
	if err != nil {
		h.fail(w, r, "list_versions", start, "Failed to retrieve item versions", err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "Item versions retrieved", result)
	h.record(r, "list_versions", events.LogInfo, http.StatusOK, start, "Item versions retrieved",
		map[string]any{"itemId": itemID, "itemType": itemType, "count": len(result.Versions)})
}

// DeleteItemVersions handles DELETE /api/v1/versions/{type}/{itemId}/versions
func (h *Handler) DeleteItemVersions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemType, itemID := r.PathValue("type"), r.PathValue("itemId")

	var req models.DeleteVersionsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "delete_versions", start, "Failed to delete item versions",
			&service.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	if err := h.svc.DeleteItemVersions(r.Context(), itemType, itemID, req.Versions); err != nil {
		h.fail(w, r, "delete_versions", start, "Failed to delete item versions", err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "Item versions deleted", nil)
	h.record(r, "delete_versions", events.LogAudit, http.StatusOK, start, "Item versions deleted",
		map[string]any{"itemId": itemID, "itemType": itemType, "versions": req.Versions})
}

// DeleteItem handles DELETE /api/v1/versions/{type}/{itemId}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemType, itemID := r.PathValue("type"), r.PathValue("itemId")

	if err := h.svc.DeleteItem(r.Context(), itemType, itemID); err != nil {
		h.fail(w, r, "delete_item", start, "Failed to delete item", err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "Item deleted", nil)
	h.record(r, "delete_item", events.LogAudit, http.StatusOK, start, "Item deleted",
		map[string]any{"itemId": itemID, "itemType": itemType})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, route string, start time.Time, message string, err error) {
	status := writeServiceError(w, err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), message, logging.Error(err))
	}
	h.record(r, route, events.LogError, status, start, message, map[string]any{"error": err.Error()})
}

// writeServiceError maps service errors to HTTP responses and returns the status written.
func writeServiceError(w http.ResponseWriter, err error) int {
	var status int
	message := err.Error()
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, repository.ErrInvalidItemType):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrVersionNotFound), errors.Is(err, repository.ErrItemNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		message = "Internal server error"
	}
	httputil.WriteError(w, status, message)
	return status
}

// record publishes the operation's log entry. A failed publish never fails the request.
func (h *Handler) record(r *http.Request, route, entryType string, status int, start time.Time, message string, data map[string]any) {
	elapsed := time.Since(start)
	metrics.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
	if h.logs == nil {
		return
	}

	entry := events.LogEntry{
		Type:    entryType,
		Message: message,
		RequestDetails: events.RequestDetails{
			Method:   r.Method,
			Endpoint: r.URL.Path,
			Status:   status,
			Duration: elapsed.Milliseconds(),
		},
	}
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		entry.Actor = events.Actor{UID: claims.UserID, Username: claims.Username, Role: claims.PrimaryRole()}
	}
	if data != nil {
		entry.Data, _ = json.Marshal(data)
	}

	if err := h.logs.Publish(r.Context(), entry); err != nil {
		h.logger.WarnContext(r.Context(), "failed to publish log entry", logging.Error(err))
	}
}
