// Package handlers provides the HTTP API of the user directory.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bugtracker/history-stack/common/httputil"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/rpc"
	"github.com/bugtracker/history-stack/userdir/internal/service"
)

// Directory is implemented by *service.Directory.
type Directory interface {
	Lookup(ctx context.Context, ids []string) ([]rpc.User, error)
	PutUser(ctx context.Context, u rpc.User) error
	Ping(ctx context.Context) error
}

type Handler struct {
	dir    Directory
	broker messaging.Pinger
	logger *slog.Logger
}

func NewHandler(dir Directory) *Handler {
	return &Handler{dir: dir, logger: logging.Component("user-api")}
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
	if err := h.dir.Ping(r.Context()); err != nil {
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

// LookupUsers handles GET /api/v1/users?ids=a,b,c
func (h *Handler) LookupUsers(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		httputil.WriteError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	users, err := h.dir.Lookup(r.Context(), strings.Split(raw, ","))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Users retrieved", users)
}

// PutUser handles PUT /api/v1/users/{id}
func (h *Handler) PutUser(w http.ResponseWriter, r *http.Request) {
	var u rpc.User
	if err := httputil.DecodeJSON(r, &u); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	u.ID = r.PathValue("id")

	if err := h.dir.PutUser(r.Context(), u); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "User saved", u)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrValidation) {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "request failed", logging.Error(err))
	httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
}
