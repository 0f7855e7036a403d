// Package store provides durable, partial-update-capable persistence for
// sessions, leads, and follow-up tasks.
package store

import (
	"context"
	"time"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

// UpdateSession is a field-level partial update. Nil fields leave the
// stored value untouched; CollectedData is merged key-by-key, never
// replaced; AppendTurns is appended to the history, never replacing it.
type UpdateSession struct {
	Status              *model.SessionStatus
	Phase               *int
	HighestPhaseReached *int
	Data                *model.CollectedData
	ClearData           []string
	AppendTurns         []model.ConversationTurn
	CRMLeadID           *string
	RecoveryNotifiedAt  *time.Time
	// ClearRecoveryNotified resets the recovery flag so a later pause can
	// notify again.
	ClearRecoveryNotified bool
	LastActivityAt        *time.Time
}

// FindSessions filters a session listing. Nil fields match everything.
type FindSessions struct {
	Statuses           []model.SessionStatus
	Kind               *model.SessionKind
	LastActivityBefore *time.Time
	LastActivityAfter  *time.Time
	RecoveryNotified   *bool
	HasCRMLeadID       *bool
	Limit              int
}

// UpdateFollowUp transitions a claimed follow-up task.
type UpdateFollowUp struct {
	Status          *model.FollowUpStatus
	ResultMessageID *string
	ResultError     *string
}

// SessionStore persists capture sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSessionByID(ctx context.Context, id string) (*model.Session, error)
	GetSessionByResumeToken(ctx context.Context, token string) (*model.Session, error)
	// UpdateSession merges update into the stored record and returns the
	// result. Scalars are last-writer-wins.
	UpdateSession(ctx context.Context, id string, update *UpdateSession) (*model.Session, error)
	// ConditionalUpdateSession applies update only while the stored status
	// is one of expect. It reports whether the update took effect; a lost
	// race is a no-op, not an error.
	ConditionalUpdateSession(ctx context.Context, id string, expect []model.SessionStatus, update *UpdateSession) (bool, error)
	ListSessions(ctx context.Context, find *FindSessions) ([]*model.Session, error)
}

// LeadStore persists primary lead records with a unique constraint on
// normalized email.
type LeadStore interface {
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLeadByID(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error)
	UpdateLead(ctx context.Context, lead *model.Lead) error
}

// FollowUpStore persists scheduled follow-up tasks.
type FollowUpStore interface {
	CreateFollowUp(ctx context.Context, task *model.FollowUpTask) error
	ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]*model.FollowUpTask, error)
	// ConditionalUpdateFollowUp claims a task: the update applies only if
	// the stored status still equals expect.
	ConditionalUpdateFollowUp(ctx context.Context, id string, expect model.FollowUpStatus, update *UpdateFollowUp) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	SessionStore
	LeadStore
	FollowUpStore
	Close() error
}

// applySessionUpdate folds update into s. Shared by both implementations
// so merge semantics cannot drift between them.
func applySessionUpdate(s *model.Session, update *UpdateSession, now time.Time) {
	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.Phase != nil {
		s.Phase = *update.Phase
	}
	if update.HighestPhaseReached != nil && *update.HighestPhaseReached > s.HighestPhaseReached {
		s.HighestPhaseReached = *update.HighestPhaseReached
	}
	if update.Data != nil {
		s.CollectedData.Merge(update.Data)
	}
	for _, field := range update.ClearData {
		clearDataField(&s.CollectedData, field)
	}
	if len(update.AppendTurns) > 0 {
		s.ConversationHistory = append(s.ConversationHistory, update.AppendTurns...)
	}
	if update.CRMLeadID != nil && s.CRMLeadID == "" {
		// Set at most once: the idempotency key is never overwritten.
		s.CRMLeadID = *update.CRMLeadID
	}
	if update.RecoveryNotifiedAt != nil {
		s.RecoveryNotifiedAt = update.RecoveryNotifiedAt
	}
	if update.ClearRecoveryNotified {
		s.RecoveryNotifiedAt = nil
	}
	if update.LastActivityAt != nil {
		s.LastActivityAt = *update.LastActivityAt
	}
	s.UpdatedAt = now
}

// clearDataField nulls out one explicitly named collected field. Merges
// alone never remove data; this is the explicit instruction path.
func clearDataField(d *model.CollectedData, field string) {
	switch field {
	case "contact":
		d.Contact = nil
	case "address":
		d.Address = nil
	case "consumption":
		d.Consumption = nil
	case "system":
		d.System = nil
	case "financing":
		d.Financing = nil
	case "pricing":
		d.Pricing = nil
	}
}

func matchesFind(s *model.Session, find *FindSessions) bool {
	if find == nil {
		return true
	}
	if len(find.Statuses) > 0 {
		ok := false
		for _, st := range find.Statuses {
			if s.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if find.Kind != nil && s.Kind != *find.Kind {
		return false
	}
	// Both cutoffs are inclusive: a session idle for exactly the timeout
	// is eligible for demotion.
	if find.LastActivityBefore != nil && s.LastActivityAt.After(*find.LastActivityBefore) {
		return false
	}
	if find.LastActivityAfter != nil && s.LastActivityAt.Before(*find.LastActivityAfter) {
		return false
	}
	if find.RecoveryNotified != nil && (s.RecoveryNotifiedAt != nil) != *find.RecoveryNotified {
		return false
	}
	if find.HasCRMLeadID != nil && (s.CRMLeadID != "") != *find.HasCRMLeadID {
		return false
	}
	return true
}
