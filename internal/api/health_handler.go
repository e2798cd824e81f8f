package api

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/lottery-keeper/internal/api/shared"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Scheduler bool   `json:"scheduler"`
}

// HealthHandler reports liveness of the store and the scheduler.
type HealthHandler struct {
	store     Pinger
	scheduler interface{ Running() bool }
	timeout   time.Duration
}

// NewHealthHandler creates a HealthHandler. store may be nil for backends
// with nothing to ping.
func NewHealthHandler(store Pinger, scheduler interface{ Running() bool }) *HealthHandler {
	return &HealthHandler{store: store, scheduler: scheduler, timeout: 2 * time.Second}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.store.PingContext(ctx); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	if h.scheduler != nil {
		resp.Scheduler = h.scheduler.Running()
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
