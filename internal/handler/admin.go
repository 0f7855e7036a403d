package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/internal/session"
	"github.com/brightpath-solar/lead-funnel/internal/store"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
)

// AdminHandler serves the staff read-only surface.
type AdminHandler struct {
	service *session.Service
	leads   store.LeadStore
	logger  *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(svc *session.Service, leads store.LeadStore, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		service: svc,
		leads:   leads,
		logger:  log,
	}
}

// ListSessions handles GET /api/v1/admin/sessions
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	find := &store.FindSessions{Limit: 100}

	if s := r.URL.Query().Get("status"); s != "" {
		find.Statuses = []model.SessionStatus{model.SessionStatus(s)}
	}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind := model.SessionKind(k)
		find.Kind = &kind
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			find.Limit = parsed
		}
	}

	sessions, err := h.service.List(r.Context(), find)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := model.ListSessionsResponse{Total: len(sessions)}
	resp.Sessions = make([]model.Session, 0, len(sessions))
	for _, s := range sessions {
		// Resume tokens are capabilities; staff listings never carry them.
		s.ResumeToken = ""
		resp.Sessions = append(resp.Sessions, *s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLead handles GET /api/v1/admin/leads/{id}
func (h *AdminHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.leads.GetLeadByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}
