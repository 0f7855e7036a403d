package handler

import (
	"context"
	"net/http"

	"github.com/brightpath-solar/lead-funnel/internal/notify"
)

// Pinger verifies storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db        Pinger
	messenger *notify.NATSMessenger
}

// NewHealthHandler creates a new health handler. Either dependency may
// be nil (in-memory store, notifications disabled).
func NewHealthHandler(db Pinger, messenger *notify.NATSMessenger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		messenger: messenger,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unreachable",
			})
			return
		}
	}
	if h.messenger != nil && !h.messenger.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
