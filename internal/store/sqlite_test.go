package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	now := time.Now().Truncate(time.Second)
	sess := &model.Session{
		ID:          "s1",
		ResumeToken: "deadbeef",
		Kind:        model.KindWizard,
		Status:      model.StatusActive,
		CollectedData: model.CollectedData{
			Contact: &model.Contact{Email: strPtr("a@example.com")},
		},
		ConversationHistory: []model.ConversationTurn{{Role: model.RoleUser, Content: "hi", CreatedAt: now}},
		CreatedAt:           now,
		LastActivityAt:      now,
		UpdatedAt:           now,
	}
	require.NoError(t, st.CreateSession(ctx, sess))

	got, err := st.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", *got.CollectedData.Contact.Email)
	assert.Len(t, got.ConversationHistory, 1)
	assert.True(t, got.LastActivityAt.Equal(now))

	byToken, err := st.GetSessionByResumeToken(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "s1", byToken.ID)

	_, err = st.GetSessionByID(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLiteStore_UpdateSession_SameSemanticsAsMemory(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	require.NoError(t, st.CreateSession(ctx, newTestSession("s1", model.StatusActive)))

	_, err := st.UpdateSession(ctx, "s1", &UpdateSession{
		Data: &model.CollectedData{Contact: &model.Contact{Email: strPtr("a@example.com")}},
	})
	require.NoError(t, err)

	first := "lead-1"
	sess, err := st.UpdateSession(ctx, "s1", &UpdateSession{
		Data:      &model.CollectedData{Address: &model.Address{Street: strPtr("1 Main St"), Zip: strPtr("94105")}},
		CRMLeadID: &first,
	})
	require.NoError(t, err)

	assert.Equal(t, "a@example.com", *sess.CollectedData.Contact.Email)
	assert.Equal(t, "1 Main St", *sess.CollectedData.Address.Street)

	second := "lead-2"
	sess, err = st.UpdateSession(ctx, "s1", &UpdateSession{CRMLeadID: &second})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", sess.CRMLeadID)
}

func TestSQLiteStore_ConcurrentMergeUpdates(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	require.NoError(t, st.CreateSession(ctx, newTestSession("s1", model.StatusActive)))

	// Concurrent read-modify-write merges must serialize rather than fail
	// with a busy error or drop each other's fields.
	updates := []*UpdateSession{
		{Data: &model.CollectedData{Contact: &model.Contact{Email: strPtr("a@example.com")}}},
		{Data: &model.CollectedData{Address: &model.Address{Street: strPtr("1 Main St"), Zip: strPtr("94105")}}},
		{Data: &model.CollectedData{Consumption: &model.Consumption{MonthlyKWh: f64Ptr(850)}}},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(updates))
	for i, u := range updates {
		wg.Add(1)
		go func(i int, u *UpdateSession) {
			defer wg.Done()
			_, errs[i] = st.UpdateSession(ctx, "s1", u)
		}(i, u)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := st.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", *got.CollectedData.Contact.Email)
	assert.Equal(t, "1 Main St", *got.CollectedData.Address.Street)
	assert.Equal(t, 850.0, *got.CollectedData.Consumption.MonthlyKWh)
}

func TestSQLiteStore_ConditionalUpdateSession(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	require.NoError(t, st.CreateSession(ctx, newTestSession("s1", model.StatusPaused)))

	active := model.StatusActive
	applied, err := st.ConditionalUpdateSession(ctx, "s1", []model.SessionStatus{model.StatusActive}, &UpdateSession{Status: &active})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = st.ConditionalUpdateSession(ctx, "s1", []model.SessionStatus{model.StatusPaused}, &UpdateSession{Status: &active})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestSQLiteStore_ListSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		id           string
		status       model.SessionStatus
		lastActivity time.Time
	}{
		{"old-active", model.StatusActive, base.Add(-2 * time.Hour)},
		{"fresh-active", model.StatusActive, base},
		{"old-paused", model.StatusPaused, base.Add(-2 * time.Hour)},
	} {
		s := newTestSession(tc.id, tc.status)
		s.LastActivityAt = tc.lastActivity
		require.NoError(t, st.CreateSession(ctx, s))
	}

	cutoff := base.Add(-time.Hour)
	out, err := st.ListSessions(ctx, &FindSessions{
		Statuses:           []model.SessionStatus{model.StatusActive, model.StatusPaused},
		LastActivityBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "old-active", out[0].ID)
	assert.Equal(t, "old-paused", out[1].ID)

	// Exact-cutoff rows are included.
	exact := base.Add(-2 * time.Hour)
	out, err = st.ListSessions(ctx, &FindSessions{LastActivityBefore: &exact})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestSQLiteStore_LeadEmailUnique(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	now := time.Now()

	require.NoError(t, st.CreateLead(ctx, &model.Lead{
		ID: "l1", Email: "A@Example.com", Source: model.KindWizard, CreatedAt: now, UpdatedAt: now,
	}))

	err := st.CreateLead(ctx, &model.Lead{
		ID: "l2", Email: "a@example.com", Source: model.KindWizard, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, model.ErrConflict)

	lead, err := st.GetLeadByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "l1", lead.ID)

	lead.Phone = "555-0100"
	require.NoError(t, st.UpdateLead(ctx, lead))
	lead, err = st.GetLeadByID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "555-0100", lead.Phone)
}

func TestSQLiteStore_FollowUps(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, st.CreateFollowUp(ctx, &model.FollowUpTask{
		ID: "t1", LeadID: "l1", Channel: model.ChannelEmail, Type: "welcome",
		Status: model.FollowUpPending, ScheduledAt: now.Add(-time.Minute),
		Metadata: map[string]string{"template": "welcome_v2"},
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, st.CreateFollowUp(ctx, &model.FollowUpTask{
		ID: "t2", LeadID: "l1", Channel: model.ChannelEmail, Type: "welcome",
		Status: model.FollowUpPending, ScheduledAt: now.Add(time.Hour),
		CreatedAt: now, UpdatedAt: now,
	}))

	due, err := st.ListDueFollowUps(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "t1", due[0].ID)
	assert.Equal(t, "welcome_v2", due[0].Metadata["template"])

	sent := model.FollowUpSent
	applied, err := st.ConditionalUpdateFollowUp(ctx, "t1", model.FollowUpPending, &UpdateFollowUp{Status: &sent})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = st.ConditionalUpdateFollowUp(ctx, "t1", model.FollowUpPending, &UpdateFollowUp{Status: &sent})
	require.NoError(t, err)
	assert.False(t, applied)
}
