package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/middleware"
	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/internal/session"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
)

// SessionHandler handles the public session endpoints. The session id
// and resume token are capabilities; there is no separate user auth.
type SessionHandler struct {
	service *session.Service
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *session.Service, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.service.Create(r.Context(), &req)
	if err != nil {
		if !model.IsValidation(err) {
			h.logger.Error("failed to create session", zap.Error(err))
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeServiceError(w, err)
		return
	}

	sess, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Update handles PATCH /api/v1/sessions/{id}, a partial data merge.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeServiceError(w, err)
		return
	}

	var req model.UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.service.MergeData(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Advance handles POST /api/v1/sessions/{id}/advance
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeServiceError(w, err)
		return
	}

	// The body is optional; chunked requests report no ContentLength, so
	// decode unconditionally and treat an empty body as no payload.
	var req model.AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.service.Advance(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Complete handles POST /api/v1/sessions/{id}/complete
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeServiceError(w, err)
		return
	}

	sess, err := h.service.Complete(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Save handles POST /api/v1/sessions/{id}/save, the live CRM save.
func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.service.SaveToCRM(r.Context(), id)
	if err != nil {
		if model.IsUpstream(err) {
			h.logger.Warn("live CRM save deferred",
				zap.String("session_id", id),
				zap.Error(err),
			)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AppendTurn handles POST /api/v1/sessions/{id}/turns
func (h *SessionHandler) AppendTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeServiceError(w, err)
		return
	}

	var req model.AppendTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTurnContent(req.Content); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.service.AppendTurn(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Resume handles POST /api/v1/sessions/resume
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req model.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateResumeToken(req.Token); err != nil {
		// Malformed tokens 404 like unknown ones so the two are
		// indistinguishable to a prober.
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	sess, err := h.service.Resume(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
