// Package reconcile projects session data into the primary lead store
// and mirrors it into the external CRM, idempotently.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/crm"
	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/internal/notify"
	"github.com/brightpath-solar/lead-funnel/internal/store"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
	"github.com/brightpath-solar/lead-funnel/pkg/metrics"
)

// Store is the slice of persistence the reconciler needs.
type Store interface {
	store.SessionStore
	store.LeadStore
}

const (
	// DefaultWindow bounds sweep candidates to recently active sessions.
	DefaultWindow = 7 * 24 * time.Hour

	// mirror retries: three attempts inline, then the next sweep picks the
	// session up again. The conditional conversion guard makes unlimited
	// re-sweeps safe, so there is no global retry cap.
	mirrorMaxRetries  = 3
	mirrorMaxInterval = 10 * time.Second
)

// Result summarizes one reconciliation sweep.
type Result struct {
	Candidates int `json:"candidates"`
	Converted  int `json:"converted"`
	Deferred   int `json:"deferred"`
	Skipped    int `json:"skipped"`
}

// Reconciler implements the sync algorithm. It is safe to run from the
// live save path and the sweep path concurrently; the session's
// conditional status update arbitrates.
type Reconciler struct {
	store  Store
	crm    crm.Client
	router *notify.Router
	logger *logger.Logger
	window time.Duration
	now    func() time.Time
}

// New creates a Reconciler. A zero window falls back to DefaultWindow.
func New(st Store, crmClient crm.Client, router *notify.Router, window time.Duration, log *logger.Logger) *Reconciler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reconciler{
		store:  st,
		crm:    crmClient,
		router: router,
		logger: log,
		window: window,
		now:    time.Now,
	}
}

// SetClock overrides the reconciler clock. Test hook.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// SyncOne reconciles a single session immediately (the live save path)
// and returns the primary lead id.
func (r *Reconciler) SyncOne(ctx context.Context, sessionID string) (string, error) {
	sess, err := r.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !sess.CollectedData.SubstantialProgress() {
		return "", model.NewValidationError("collected_data", "not enough data to create a lead")
	}
	return r.syncSession(ctx, sess)
}

// Sweep reconciles every eligible session: active or completed, recently
// active, with substantial progress. Sessions that only left an email or
// phone are skipped so the CRM is not polluted with empty leads.
func (r *Reconciler) Sweep(ctx context.Context) (*Result, error) {
	cutoff := r.now().Add(-r.window)
	sessions, err := r.store.ListSessions(ctx, &store.FindSessions{
		Statuses:          []model.SessionStatus{model.StatusActive, model.StatusCompleted},
		LastActivityAfter: &cutoff,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, sess := range sessions {
		if !sess.CollectedData.SubstantialProgress() {
			continue
		}
		result.Candidates++
		if _, err := r.syncSession(ctx, sess); err != nil {
			if model.IsValidation(err) {
				// Not enough identity to key a lead; nothing to retry.
				result.Skipped++
				continue
			}
			// Scoped to this session; the next sweep retries it.
			result.Deferred++
			r.logger.Warn("reconcile deferred",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
			continue
		}
		// Re-read to classify the outcome for the sweep summary.
		updated, err := r.store.GetSessionByID(ctx, sess.ID)
		if err == nil && updated.Status == model.StatusConvertedToLead {
			result.Converted++
		}
	}
	return result, nil
}

// syncSession runs the per-candidate algorithm. The returned id is the
// primary lead record id, which becomes the session's crmLeadId at
// conversion time and never before: setting it earlier would let the
// already-synced short-circuit skip a mirror that has not happened.
func (r *Reconciler) syncSession(ctx context.Context, sess *model.Session) (string, error) {
	// Step 1: already synced. A second sweep pass over a converted-but-
	// stale listing lands here and stops without touching the CRM.
	if sess.CRMLeadID != "" {
		lead, err := r.store.GetLeadByID(ctx, sess.CRMLeadID)
		if err == nil {
			r.convert(ctx, sess, lead.ID)
			metrics.ReconcileOutcomes.WithLabelValues("already_synced").Inc()
			return lead.ID, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return "", err
		}
		// Stale pointer: fall through and rebuild the lead.
	}

	projected := model.LeadFromSession(sess)
	if projected.Email == "" {
		metrics.ReconcileOutcomes.WithLabelValues("no_email").Inc()
		return "", model.NewValidationError("contact.email", "required to create a lead")
	}

	// Steps 2-3: dedup by normalized email, else create. The unique
	// constraint backstops the read-then-create race.
	lead, err := r.store.GetLeadByEmail(ctx, projected.Email)
	switch {
	case err == nil:
		lead.MergeFrom(projected)
		if err := r.store.UpdateLead(ctx, lead); err != nil {
			return "", err
		}
		metrics.ReconcileOutcomes.WithLabelValues("merged").Inc()
	case errors.Is(err, model.ErrNotFound):
		now := r.now()
		projected.ID = uuid.Must(uuid.NewV7()).String()
		projected.CreatedAt = now
		projected.UpdatedAt = now
		if err := r.store.CreateLead(ctx, projected); err != nil {
			if errors.Is(err, model.ErrConflict) {
				// Lost the create race; merge into the winner.
				lead, err = r.store.GetLeadByEmail(ctx, projected.Email)
				if err != nil {
					return "", err
				}
				lead.MergeFrom(projected)
				if err := r.store.UpdateLead(ctx, lead); err != nil {
					return "", err
				}
				metrics.ReconcileOutcomes.WithLabelValues("merged").Inc()
			} else {
				return "", err
			}
		} else {
			lead = projected
			metrics.ReconcileOutcomes.WithLabelValues("created").Inc()
			r.router.Notify(ctx, &model.Event{
				ID:        uuid.Must(uuid.NewV7()).String(),
				SessionID: sess.ID,
				Type:      model.EventLeadCreated,
				Summary:   "lead created from capture session",
				Fields:    map[string]string{"lead_id": lead.ID, "email": lead.Email},
				CreatedAt: now,
			})
		}
	default:
		return "", err
	}

	// Step 4: mirror into the external CRM. Failure here must not undo
	// the primary write; the session stays eligible for re-sweep.
	if err := r.mirror(ctx, lead); err != nil {
		metrics.ReconcileOutcomes.WithLabelValues("mirror_deferred").Inc()
		return "", err
	}

	// Step 5: both writes succeeded; convert under the status guard.
	r.convert(ctx, sess, lead.ID)
	return lead.ID, nil
}

// mirror creates or updates the CRM copy of lead, with a short inline
// retry. A newly learned external id is persisted on the primary record
// so retries take the update path.
func (r *Reconciler) mirror(ctx context.Context, lead *model.Lead) error {
	fields := crm.LeadFields{
		Email:      lead.Email,
		FirstName:  lead.FirstName,
		LastName:   lead.LastName,
		Phone:      lead.Phone,
		Street:     lead.Street,
		City:       lead.City,
		State:      lead.State,
		Zip:        lead.Zip,
		PanelModel: lead.PanelModel,
		PanelCount: lead.PanelCount,
		CapacityKW: lead.CapacityKW,
		NetPrice:   lead.NetPrice,
		Source:     string(lead.Source),
	}

	op := func() error {
		if lead.CRMID != "" {
			if err := r.crm.UpdateLead(ctx, lead.CRMID, fields); err != nil {
				metrics.CRMCalls.WithLabelValues("update", "error").Inc()
				return err
			}
			metrics.CRMCalls.WithLabelValues("update", "ok").Inc()
			return nil
		}

		externalID, err := r.crm.FindLeadByEmail(ctx, lead.Email)
		if err != nil {
			metrics.CRMCalls.WithLabelValues("find", "error").Inc()
			return err
		}
		metrics.CRMCalls.WithLabelValues("find", "ok").Inc()

		if externalID == "" {
			externalID, err = r.crm.CreateLead(ctx, fields)
			if err != nil {
				metrics.CRMCalls.WithLabelValues("create", "error").Inc()
				return err
			}
			metrics.CRMCalls.WithLabelValues("create", "ok").Inc()
		} else {
			if err := r.crm.UpdateLead(ctx, externalID, fields); err != nil {
				metrics.CRMCalls.WithLabelValues("update", "error").Inc()
				return err
			}
			metrics.CRMCalls.WithLabelValues("update", "ok").Inc()
		}

		lead.CRMID = externalID
		return r.store.UpdateLead(ctx, lead)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = mirrorMaxInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, mirrorMaxRetries), ctx))
}

// convert transitions the session to convertedToLead and stamps the lead
// id, guarded on the session still being in a convertible status. A lost
// race (already converted, or demoted to a terminal status meanwhile) is
// a no-op: this guard is what makes repeated sweeps idempotent.
func (r *Reconciler) convert(ctx context.Context, sess *model.Session, leadID string) {
	converted := model.StatusConvertedToLead
	applied, err := r.store.ConditionalUpdateSession(ctx, sess.ID,
		[]model.SessionStatus{model.StatusActive, model.StatusCompleted},
		&store.UpdateSession{
			Status:    &converted,
			CRMLeadID: &leadID,
		})
	if err != nil {
		r.logger.Warn("convert update failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return
	}
	if !applied {
		return
	}
	metrics.SessionTransitions.WithLabelValues(string(model.StatusConvertedToLead)).Inc()
	r.router.Notify(ctx, &model.Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sess.ID,
		Type:      model.EventLeadSynced,
		Summary:   "session converted to lead",
		Fields:    map[string]string{"lead_id": leadID},
		CreatedAt: r.now(),
	})
}
