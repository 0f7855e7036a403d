package store

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

// MemoryStore is an in-process Store used in tests and as a development
// fallback when no database DSN is configured. Not durable across
// restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*model.Session
	leads     map[string]*model.Lead
	leadEmail map[string]string // normalized email -> lead id
	followUps map[string]*model.FollowUpTask

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*model.Session),
		leads:     make(map[string]*model.Lead),
		leadEmail: make(map[string]string),
		followUps: make(map[string]*model.FollowUpTask),
		now:       time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func cloneSession(s *model.Session) *model.Session {
	raw, _ := json.Marshal(s)
	var out model.Session
	_ = json.Unmarshal(raw, &out)
	return &out
}

func cloneLead(l *model.Lead) *model.Lead {
	out := *l
	return &out
}

func cloneFollowUp(t *model.FollowUpTask) *model.FollowUpTask {
	out := *t
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CreateSession stores a new session.
func (m *MemoryStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return errors.Wrap(model.ErrConflict, "session id already exists")
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

// GetSessionByID returns the session with the given id.
func (m *MemoryStore) GetSessionByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneSession(s), nil
}

// GetSessionByResumeToken looks a session up by its resume token. The
// scan compares every stored token in constant time so a miss costs the
// same as a hit regardless of shared prefixes.
func (m *MemoryStore) GetSessionByResumeToken(_ context.Context, token string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *model.Session
	for _, s := range m.sessions {
		if s.ResumeToken == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(s.ResumeToken), []byte(token)) == 1 {
			found = s
		}
	}
	if found == nil {
		return nil, model.ErrNotFound
	}
	return cloneSession(found), nil
}

// UpdateSession merges update into the stored session.
func (m *MemoryStore) UpdateSession(_ context.Context, id string, update *UpdateSession) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	applySessionUpdate(s, update, m.now())
	return cloneSession(s), nil
}

// ConditionalUpdateSession applies update only while the stored status is
// one of expect.
func (m *MemoryStore) ConditionalUpdateSession(_ context.Context, id string, expect []model.SessionStatus, update *UpdateSession) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, model.ErrNotFound
	}
	matched := false
	for _, st := range expect {
		if s.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	applySessionUpdate(s, update, m.now())
	return true, nil
}

// ListSessions returns sessions matching find, oldest activity first.
func (m *MemoryStore) ListSessions(_ context.Context, find *FindSessions) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Session
	for _, s := range m.sessions {
		if matchesFind(s, find) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.Before(out[j].LastActivityAt)
	})
	if find != nil && find.Limit > 0 && len(out) > find.Limit {
		out = out[:find.Limit]
	}
	return out, nil
}

// CreateLead stores a new lead, enforcing email uniqueness.
func (m *MemoryStore) CreateLead(_ context.Context, lead *model.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := model.NormalizeEmail(lead.Email)
	if email == "" {
		return model.NewValidationError("email", "required")
	}
	if _, exists := m.leadEmail[email]; exists {
		return errors.Wrap(model.ErrConflict, "lead email already exists")
	}
	lead.Email = email
	m.leads[lead.ID] = cloneLead(lead)
	m.leadEmail[email] = lead.ID
	return nil
}

// GetLeadByID returns the lead with the given id.
func (m *MemoryStore) GetLeadByID(_ context.Context, id string) (*model.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneLead(l), nil
}

// GetLeadByEmail returns the lead with the given normalized email.
func (m *MemoryStore) GetLeadByEmail(_ context.Context, email string) (*model.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.leadEmail[model.NormalizeEmail(email)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneLead(m.leads[id]), nil
}

// UpdateLead replaces the stored lead row.
func (m *MemoryStore) UpdateLead(_ context.Context, lead *model.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.leads[lead.ID]
	if !ok {
		return model.ErrNotFound
	}
	lead.Email = model.NormalizeEmail(lead.Email)
	if lead.Email != stored.Email {
		if _, exists := m.leadEmail[lead.Email]; exists {
			return errors.Wrap(model.ErrConflict, "lead email already exists")
		}
		delete(m.leadEmail, stored.Email)
		m.leadEmail[lead.Email] = lead.ID
	}
	lead.UpdatedAt = m.now()
	m.leads[lead.ID] = cloneLead(lead)
	return nil
}

// CreateFollowUp stores a new follow-up task.
func (m *MemoryStore) CreateFollowUp(_ context.Context, task *model.FollowUpTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.followUps[task.ID]; exists {
		return errors.Wrap(model.ErrConflict, "follow-up id already exists")
	}
	m.followUps[task.ID] = cloneFollowUp(task)
	return nil
}

// ListDueFollowUps returns pending tasks scheduled at or before now.
func (m *MemoryStore) ListDueFollowUps(_ context.Context, now time.Time, limit int) ([]*model.FollowUpTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FollowUpTask
	for _, t := range m.followUps {
		if t.Status == model.FollowUpPending && !t.ScheduledAt.After(now) {
			out = append(out, cloneFollowUp(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ConditionalUpdateFollowUp claims a task if its status still equals
// expect.
func (m *MemoryStore) ConditionalUpdateFollowUp(_ context.Context, id string, expect model.FollowUpStatus, update *UpdateFollowUp) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.followUps[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if t.Status != expect {
		return false, nil
	}
	if update.Status != nil {
		t.Status = *update.Status
	}
	if update.ResultMessageID != nil {
		t.ResultMessageID = *update.ResultMessageID
	}
	if update.ResultError != nil {
		t.ResultError = *update.ResultError
	}
	t.UpdatedAt = m.now()
	return true, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
