// Package handlers provides the admin HTTP API over stored log entries and the dead-letter queue.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/httputil"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/logger/internal/dlq"
	"github.com/bugtracker/history-stack/logger/internal/metrics"
	"github.com/bugtracker/history-stack/logger/internal/repository"
	"github.com/bugtracker/history-stack/logger/internal/service"
)

// LogService is implemented by *service.Service.
type LogService interface {
	GetLog(ctx context.Context, day, logType, logID string) (*events.LogEntry, error)
	GetLogs(ctx context.Context, day, logType string, limit int, startAfter string) (*service.LogPage, error)
	UpdateLog(ctx context.Context, day, logType, logID string, upd service.LogUpdate) (*events.LogEntry, error)
	DeleteLog(ctx context.Context, day, logType, logID string) error
	Ping(ctx context.Context) error
}

// DeadLetters is implemented by *dlq.Queue.
type DeadLetters interface {
	Stats(ctx context.Context) map[string]any
	List(ctx context.Context, reason string, limit int) ([]dlq.FailedLog, error)
	Purge(ctx context.Context) error
}

type Handler struct {
	svc    LogService
	dlq    DeadLetters
	broker messaging.Pinger
	logger *slog.Logger
}

func NewHandler(svc LogService, dead DeadLetters) *Handler {
	return &Handler{svc: svc, dlq: dead, logger: logging.Component("log-api")}
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

// GetLogs handles GET /api/v1/logs/{day}/{type}?limit=N&startAfter=<id>
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	page, err := httputil.ParseCursorPage(r, service.DefaultPageSize)
	if err != nil {
		h.fail(w, r, "list_logs", start, &service.ValidationError{Field: "limit", Reason: err.Error()})
		return
	}

	result, err := h.svc.GetLogs(r.Context(), r.PathValue("day"), r.PathValue("type"), page.Limit, page.StartAfter)
	if err != nil {
		h.fail(w, r, "list_logs", start, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Logs retrieved", result)
	observe("list_logs", http.StatusOK, start)
}

// GetLog handles GET /api/v1/logs/{day}/{type}/{logId}
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	entry, err := h.svc.GetLog(r.Context(), r.PathValue("day"), r.PathValue("type"), r.PathValue("logId"))
	if err != nil {
		h.fail(w, r, "get_log", start, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Log retrieved", entry)
	observe("get_log", http.StatusOK, start)
}

// UpdateLog handles PUT /api/v1/logs/{day}/{type}/{logId}
func (h *Handler) UpdateLog(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var upd service.LogUpdate
	if err := httputil.DecodeJSON(r, &upd); err != nil {
		h.fail(w, r, "update_log", start, &service.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	entry, err := h.svc.UpdateLog(r.Context(), r.PathValue("day"), r.PathValue("type"), r.PathValue("logId"), upd)
	if err != nil {
		h.fail(w, r, "update_log", start, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Log updated", entry)
	observe("update_log", http.StatusOK, start)
}

// DeleteLog handles DELETE /api/v1/logs/{day}/{type}/{logId}
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.svc.DeleteLog(r.Context(), r.PathValue("day"), r.PathValue("type"), r.PathValue("logId")); err != nil {
		h.fail(w, r, "delete_log", start, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Log deleted", nil)
	observe("delete_log", http.StatusOK, start)
}

// DLQStats handles GET /api/v1/dlq
func (h *Handler) DLQStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, http.StatusOK, "DLQ stats retrieved", h.dlq.Stats(r.Context()))
}

// DLQList handles GET /api/v1/dlq/messages?reason=<reason>&limit=N
func (h *Handler) DLQList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit, err := httputil.ParseIntParam(r.URL.Query().Get("limit"), 100)
	if err != nil || limit < 1 {
		h.fail(w, r, "dlq_list", start, &service.ValidationError{Field: "limit", Reason: "must be a positive integer"})
		return
	}

	failed, err := h.dlq.List(r.Context(), r.URL.Query().Get("reason"), limit)
	if err != nil {
		h.fail(w, r, "dlq_list", start, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "DLQ messages retrieved", failed)
	observe("dlq_list", http.StatusOK, start)
}

// DLQPurge handles DELETE /api/v1/dlq
func (h *Handler) DLQPurge(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.dlq.Purge(r.Context()); err != nil {
		h.fail(w, r, "dlq_purge", start, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "DLQ purged", nil)
	observe("dlq_purge", http.StatusOK, start)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, route string, start time.Time, err error) {
	status := writeServiceError(w, err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", slog.String("route", route), logging.Error(err))
	}
	observe(route, status, start)
}

// writeServiceError maps service errors to HTTP responses and returns the status written.
func writeServiceError(w http.ResponseWriter, err error) int {
	var status int
	message := err.Error()
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, repository.ErrInvalidLogType):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrLogNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		message = "Internal server error"
	}
	httputil.WriteError(w, status, message)
	return status
}

func observe(route string, status int, start time.Time) {
	metrics.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}
