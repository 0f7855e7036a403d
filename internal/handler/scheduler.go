package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/scheduler"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
)

// SchedulerHandler exposes the cron trigger endpoints. Each is
// idempotent and safe to invoke concurrently; re-invocation over
// already-processed records is a no-op.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	logger    *logger.Logger
}

// NewSchedulerHandler creates a new scheduler handler.
func NewSchedulerHandler(sched *scheduler.Scheduler, log *logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
		logger:    log,
	}
}

// Lifecycle handles POST /internal/cron/lifecycle
func (h *SchedulerHandler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.RunLifecycle(r.Context())
	if err != nil {
		h.logger.Error("lifecycle sweep failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	h.logger.Info("lifecycle sweep completed",
		zap.Int("paused", result.Paused),
		zap.Int("abandoned", result.Abandoned),
		zap.Int("notified", result.Notified),
		zap.Int("escalated", result.Escalated),
	)
	writeJSON(w, http.StatusOK, result)
}

// Reconcile handles POST /internal/cron/reconcile
func (h *SchedulerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.RunReconcile(r.Context())
	if err != nil {
		h.logger.Error("reconcile sweep failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	h.logger.Info("reconcile sweep completed",
		zap.Int("candidates", result.Candidates),
		zap.Int("converted", result.Converted),
		zap.Int("deferred", result.Deferred),
		zap.Int("skipped", result.Skipped),
	)
	writeJSON(w, http.StatusOK, result)
}

// FollowUps handles POST /internal/cron/followups
func (h *SchedulerHandler) FollowUps(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.DispatchFollowUps(r.Context())
	if err != nil {
		h.logger.Error("follow-up dispatch failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	h.logger.Info("follow-up dispatch completed",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	writeJSON(w, http.StatusOK, result)
}
