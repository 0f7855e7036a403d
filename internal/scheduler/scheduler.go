// Package scheduler runs the periodic lifecycle, reconciliation, and
// follow-up sweeps. It never self-schedules: each run is triggered by an
// external timer hitting the cron endpoints, and re-invocation (even
// concurrent) is safe because every transition is a conditional update.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/internal/notify"
	"github.com/brightpath-solar/lead-funnel/internal/reconcile"
	"github.com/brightpath-solar/lead-funnel/internal/store"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
	"github.com/brightpath-solar/lead-funnel/pkg/metrics"
)

// Courier delivers customer-facing follow-up messages (email, SMS)
// through an external sending service.
type Courier interface {
	Send(ctx context.Context, task *model.FollowUpTask, lead *model.Lead) (messageID string, err error)
}

// Config holds sweep timing and escalation settings.
type Config struct {
	// IdleTimeout (T1): active sessions idle this long are paused.
	IdleTimeout time.Duration
	// AbandonTimeout (T2, measured from the pause): paused sessions idle
	// this long are abandoned. Must exceed IdleTimeout.
	AbandonTimeout time.Duration
	// HighValuePhase is the phase threshold above which a session is
	// escalated to human-facing tiers.
	HighValuePhase int
	// FollowUpBatch bounds one dispatch pass.
	FollowUpBatch int
}

// LifecycleResult summarizes one lifecycle sweep.
type LifecycleResult struct {
	Paused    int `json:"paused"`
	Abandoned int `json:"abandoned"`
	Notified  int `json:"notified"`
	Escalated int `json:"escalated"`
}

// FollowUpResult summarizes one follow-up dispatch pass.
type FollowUpResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Scheduler executes the sweeps.
type Scheduler struct {
	store      store.Store
	router     *notify.Router
	reconciler *reconcile.Reconciler
	courier    Courier
	cfg        Config
	logger     *logger.Logger
	now        func() time.Time
}

// New creates a Scheduler.
func New(st store.Store, router *notify.Router, rec *reconcile.Reconciler, courier Courier, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.FollowUpBatch <= 0 {
		cfg.FollowUpBatch = 100
	}
	return &Scheduler{
		store:      st,
		router:     router,
		reconciler: rec,
		courier:    courier,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
	}
}

// SetClock overrides the scheduler clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// highValue is the escalation cutoff: only sessions with real intent
// reach human-facing tiers; the rest are demoted silently.
func (s *Scheduler) highValue(sess *model.Session) bool {
	if sess.HighestPhaseReached >= s.cfg.HighValuePhase {
		return true
	}
	return sess.CollectedData.HasAddress() || sess.CollectedData.HasSystem()
}

// RunLifecycle executes one lifecycle sweep: idle demotion, abandonment,
// and recovery notification.
func (s *Scheduler) RunLifecycle(ctx context.Context) (*LifecycleResult, error) {
	start := s.now()
	defer func() {
		metrics.RecordSweep("lifecycle", time.Since(start).Seconds())
	}()

	result := &LifecycleResult{}
	if err := s.demoteIdle(ctx, result); err != nil {
		return result, err
	}
	if err := s.abandonStale(ctx, result); err != nil {
		return result, err
	}
	if err := s.notifyRecovery(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// demoteIdle pauses active sessions idle for at least T1. The status
// guard means a session the user resumed between the listing and the
// update is left alone.
func (s *Scheduler) demoteIdle(ctx context.Context, result *LifecycleResult) error {
	now := s.now()
	cutoff := now.Add(-s.cfg.IdleTimeout)
	sessions, err := s.store.ListSessions(ctx, &store.FindSessions{
		Statuses:           []model.SessionStatus{model.StatusActive},
		LastActivityBefore: &cutoff,
	})
	if err != nil {
		return err
	}

	paused := model.StatusPaused
	for _, sess := range sessions {
		// The demotion stamps lastActivityAt so the abandonment clock
		// starts at the pause, not at the last client touch.
		applied, err := s.store.ConditionalUpdateSession(ctx, sess.ID,
			[]model.SessionStatus{model.StatusActive},
			&store.UpdateSession{Status: &paused, LastActivityAt: &now})
		if err != nil {
			s.logger.Warn("idle demotion failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if !applied {
			continue
		}
		result.Paused++
		metrics.SessionTransitions.WithLabelValues(string(model.StatusPaused)).Inc()
		s.router.Notify(ctx, &model.Event{
			ID:        uuid.Must(uuid.NewV7()).String(),
			SessionID: sess.ID,
			Type:      model.EventSessionPaused,
			Summary:   "session paused after idle timeout",
			Fields:    map[string]string{"kind": string(sess.Kind)},
			CreatedAt: now,
		})
		if s.highValue(sess) {
			result.Escalated++
			s.router.Notify(ctx, &model.Event{
				ID:        uuid.Must(uuid.NewV7()).String(),
				SessionID: sess.ID,
				Type:      model.EventHighValueSession,
				Summary:   "high-value session went idle",
				Fields:    map[string]string{"kind": string(sess.Kind), "email": sess.CollectedData.Email()},
				CreatedAt: now,
			})
		}
	}
	return nil
}

// abandonStale abandons paused sessions idle for at least T2 since the
// pause. Low-intent sessions are demoted without alerting anyone.
func (s *Scheduler) abandonStale(ctx context.Context, result *LifecycleResult) error {
	now := s.now()
	cutoff := now.Add(-s.cfg.AbandonTimeout)
	sessions, err := s.store.ListSessions(ctx, &store.FindSessions{
		Statuses:           []model.SessionStatus{model.StatusPaused},
		LastActivityBefore: &cutoff,
	})
	if err != nil {
		return err
	}

	abandoned := model.StatusAbandoned
	for _, sess := range sessions {
		applied, err := s.store.ConditionalUpdateSession(ctx, sess.ID,
			[]model.SessionStatus{model.StatusPaused},
			&store.UpdateSession{Status: &abandoned})
		if err != nil {
			s.logger.Warn("abandonment failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if !applied {
			continue
		}
		result.Abandoned++
		metrics.SessionTransitions.WithLabelValues(string(model.StatusAbandoned)).Inc()
		if s.highValue(sess) {
			s.router.Notify(ctx, &model.Event{
				ID:        uuid.Must(uuid.NewV7()).String(),
				SessionID: sess.ID,
				Type:      model.EventSessionAbandoned,
				Summary:   "high-value session abandoned",
				Fields:    map[string]string{"kind": string(sess.Kind), "email": sess.CollectedData.Email()},
				CreatedAt: now,
			})
		}
	}
	return nil
}

// notifyRecovery sends exactly one recovery notification per paused
// session. The flag is set by the same conditional update that gates the
// send, so a second sweep over the same session is a no-op even if both
// run concurrently.
func (s *Scheduler) notifyRecovery(ctx context.Context, result *LifecycleResult) error {
	now := s.now()
	notNotified := false
	sessions, err := s.store.ListSessions(ctx, &store.FindSessions{
		Statuses:         []model.SessionStatus{model.StatusPaused},
		RecoveryNotified: &notNotified,
	})
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		applied, err := s.store.ConditionalUpdateSession(ctx, sess.ID,
			[]model.SessionStatus{model.StatusPaused},
			&store.UpdateSession{RecoveryNotifiedAt: &now})
		if err != nil {
			s.logger.Warn("recovery flag update failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if !applied {
			continue
		}
		result.Notified++
		s.router.Notify(ctx, &model.Event{
			ID:        uuid.Must(uuid.NewV7()).String(),
			SessionID: sess.ID,
			Type:      model.EventSessionRecovery,
			Summary:   "paused session eligible for recovery outreach",
			Fields:    map[string]string{"kind": string(sess.Kind), "email": sess.CollectedData.Email()},
			CreatedAt: now,
		})
	}
	return nil
}

// RunReconcile executes the reconciliation catch-up sweep for sessions
// the live save path never reached.
func (s *Scheduler) RunReconcile(ctx context.Context) (*reconcile.Result, error) {
	start := s.now()
	defer func() {
		metrics.RecordSweep("reconcile", time.Since(start).Seconds())
	}()
	return s.reconciler.Sweep(ctx)
}

// DispatchFollowUps claims due pending tasks and sends them. The claim
// is the conditional pending->sent transition, so two concurrent passes
// send each task at most once; a failed send is recorded afterwards.
func (s *Scheduler) DispatchFollowUps(ctx context.Context) (*FollowUpResult, error) {
	start := s.now()
	defer func() {
		metrics.RecordSweep("followups", time.Since(start).Seconds())
	}()

	tasks, err := s.store.ListDueFollowUps(ctx, s.now(), s.cfg.FollowUpBatch)
	if err != nil {
		return nil, err
	}

	result := &FollowUpResult{}
	for _, task := range tasks {
		lead, err := s.store.GetLeadByID(ctx, task.LeadID)
		if err != nil {
			skipped := model.FollowUpSkipped
			reason := "lead not found"
			if _, uerr := s.store.ConditionalUpdateFollowUp(ctx, task.ID, model.FollowUpPending,
				&store.UpdateFollowUp{Status: &skipped, ResultError: &reason}); uerr != nil {
				s.logger.Warn("follow-up skip failed", zap.String("task_id", task.ID), zap.Error(uerr))
			}
			result.Skipped++
			metrics.FollowUpsDispatched.WithLabelValues(string(task.Channel), "skipped").Inc()
			continue
		}

		sent := model.FollowUpSent
		applied, err := s.store.ConditionalUpdateFollowUp(ctx, task.ID, model.FollowUpPending,
			&store.UpdateFollowUp{Status: &sent})
		if err != nil || !applied {
			// Another pass claimed it first.
			continue
		}

		messageID, err := s.courier.Send(ctx, task, lead)
		if err != nil {
			failed := model.FollowUpFailed
			msg := err.Error()
			if _, uerr := s.store.ConditionalUpdateFollowUp(ctx, task.ID, model.FollowUpSent,
				&store.UpdateFollowUp{Status: &failed, ResultError: &msg}); uerr != nil {
				s.logger.Warn("follow-up failure update failed", zap.String("task_id", task.ID), zap.Error(uerr))
			}
			result.Failed++
			metrics.FollowUpsDispatched.WithLabelValues(string(task.Channel), "failed").Inc()
			continue
		}

		if _, uerr := s.store.ConditionalUpdateFollowUp(ctx, task.ID, model.FollowUpSent,
			&store.UpdateFollowUp{ResultMessageID: &messageID}); uerr != nil {
			s.logger.Warn("follow-up result update failed", zap.String("task_id", task.ID), zap.Error(uerr))
		}
		result.Sent++
		metrics.FollowUpsDispatched.WithLabelValues(string(task.Channel), "sent").Inc()
	}
	return result, nil
}
