package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-solar/lead-funnel/internal/cache"
	"github.com/brightpath-solar/lead-funnel/internal/crm"
	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/internal/notify"
	"github.com/brightpath-solar/lead-funnel/internal/reconcile"
	"github.com/brightpath-solar/lead-funnel/internal/store"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
)

func strPtr(s string) *string { return &s }

// countingMessenger tallies events by type, ignoring tier fan-out.
type countingMessenger struct {
	mu   sync.Mutex
	seen map[model.EventType]map[string]bool
}

func newCountingMessenger() *countingMessenger {
	return &countingMessenger{seen: make(map[model.EventType]map[string]bool)}
}

func (m *countingMessenger) Send(_ context.Context, _ model.Tier, event *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[event.Type] == nil {
		m.seen[event.Type] = make(map[string]bool)
	}
	m.seen[event.Type][event.ID] = true
	return nil
}

func (m *countingMessenger) count(eventType model.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen[eventType])
}

type fakeCourier struct {
	fail  bool
	calls int
}

func (c *fakeCourier) Send(_ context.Context, task *model.FollowUpTask, _ *model.Lead) (string, error) {
	c.calls++
	if c.fail {
		return "", errors.New("courier down")
	}
	return "msg-" + task.ID, nil
}

type stubCRM struct{}

func (stubCRM) CreateLead(context.Context, crm.LeadFields) (string, error) { return "crm-1", nil }
func (stubCRM) UpdateLead(context.Context, string, crm.LeadFields) error   { return nil }
func (stubCRM) FindLeadByEmail(context.Context, string) (string, error)    { return "", nil }

const (
	testIdle    = 30 * time.Minute
	testAbandon = 72 * time.Hour
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.MemoryStore, *countingMessenger, *fakeCourier) {
	t.Helper()
	st := store.NewMemoryStore()
	msg := newCountingMessenger()
	router := notify.NewRouter(msg, cache.NewMemory(context.Background(), 0), time.Millisecond, logger.NewNop())
	rec := reconcile.New(st, stubCRM{}, router, reconcile.DefaultWindow, logger.NewNop())
	courier := &fakeCourier{}
	sched := New(st, router, rec, courier, Config{
		IdleTimeout:    testIdle,
		AbandonTimeout: testAbandon,
		HighValuePhase: 2,
	}, logger.NewNop())
	return sched, st, msg, courier
}

func seedSession(t *testing.T, st *store.MemoryStore, id string, status model.SessionStatus, lastActivity time.Time, data model.CollectedData) {
	t.Helper()
	require.NoError(t, st.CreateSession(context.Background(), &model.Session{
		ID:             id,
		Kind:           model.KindWizard,
		Status:         status,
		CollectedData:  data,
		CreatedAt:      lastActivity,
		LastActivityAt: lastActivity,
		UpdatedAt:      lastActivity,
	}))
}

func TestScheduler_IdleBoundary(t *testing.T) {
	sched, st, _, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched.SetClock(func() time.Time { return now })

	// Idle for exactly T1: demoted. One second short: left alone.
	seedSession(t, st, "exact", model.StatusActive, now.Add(-testIdle), model.CollectedData{})
	seedSession(t, st, "short", model.StatusActive, now.Add(-testIdle+time.Second), model.CollectedData{})

	result, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Paused)

	exact, err := st.GetSessionByID(ctx, "exact")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, exact.Status)
	assert.Equal(t, now, exact.LastActivityAt, "abandonment clock restarts at the pause")

	short, err := st.GetSessionByID(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, short.Status)
}

func TestScheduler_AbandonMeasuredFromPause(t *testing.T) {
	sched, st, _, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched.SetClock(func() time.Time { return now })

	seedSession(t, st, "s1", model.StatusActive, now.Add(-testIdle), model.CollectedData{})
	_, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)

	// Just short of T2 after the pause: still paused.
	now = now.Add(testAbandon - time.Minute)
	result, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Abandoned)

	now = now.Add(time.Minute)
	result, err = sched.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Abandoned)

	sess, err := st.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAbandoned, sess.Status)
}

func TestScheduler_RecoveryNotifiedOnce(t *testing.T) {
	sched, st, msg, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched.SetClock(func() time.Time { return now })

	seedSession(t, st, "s1", model.StatusActive, now.Add(-testIdle), model.CollectedData{})
	_, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)

	// Two more sweeps; the flag gates a second notification.
	now = now.Add(time.Hour)
	_, err = sched.RunLifecycle(ctx)
	require.NoError(t, err)
	now = now.Add(time.Hour)
	result, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Notified)
	assert.Equal(t, 1, msg.count(model.EventSessionRecovery))

	sess, err := st.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, sess.RecoveryNotifiedAt)
}

func TestScheduler_HighValueEscalation(t *testing.T) {
	sched, st, msg, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched.SetClock(func() time.Time { return now })

	seedSession(t, st, "hot", model.StatusActive, now.Add(-testIdle), model.CollectedData{
		Contact: &model.Contact{Email: strPtr("ada@example.com")},
		System:  &model.System{PanelModel: strPtr("SunMax 400")},
	})
	seedSession(t, st, "cold", model.StatusActive, now.Add(-testIdle), model.CollectedData{})

	result, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Paused)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 1, msg.count(model.EventHighValueSession))
}

func TestScheduler_AbandonAlertsHighValueOnly(t *testing.T) {
	sched, st, msg, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched.SetClock(func() time.Time { return now })

	seedSession(t, st, "hot", model.StatusPaused, now.Add(-testAbandon), model.CollectedData{
		System: &model.System{PanelModel: strPtr("SunMax 400")},
	})
	seedSession(t, st, "cold", model.StatusPaused, now.Add(-testAbandon), model.CollectedData{})

	result, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Abandoned)
	assert.Equal(t, 1, msg.count(model.EventSessionAbandoned))
}

func TestScheduler_ResumedSessionLeftAlone(t *testing.T) {
	sched, st, _, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched.SetClock(func() time.Time { return now })

	// The user touched the session after the sweep's listing cutoff was
	// computed; a fresh activity stamp must survive the sweep.
	seedSession(t, st, "s1", model.StatusActive, now.Add(-testIdle), model.CollectedData{})
	fresh := now.Add(-time.Minute)
	_, err := st.UpdateSession(ctx, "s1", &store.UpdateSession{LastActivityAt: &fresh})
	require.NoError(t, err)

	result, err := sched.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Paused)
}

func TestScheduler_DispatchFollowUps(t *testing.T) {
	sched, st, _, courier := newTestScheduler(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.CreateLead(ctx, &model.Lead{ID: "l1", Email: "ada@example.com"}))
	require.NoError(t, st.CreateFollowUp(ctx, &model.FollowUpTask{
		ID: "t1", LeadID: "l1", Channel: model.ChannelEmail,
		Status: model.FollowUpPending, ScheduledAt: now.Add(-time.Minute),
	}))
	require.NoError(t, st.CreateFollowUp(ctx, &model.FollowUpTask{
		ID: "orphan", LeadID: "missing", Channel: model.ChannelSMS,
		Status: model.FollowUpPending, ScheduledAt: now.Add(-time.Minute),
	}))
	require.NoError(t, st.CreateFollowUp(ctx, &model.FollowUpTask{
		ID: "future", LeadID: "l1", Channel: model.ChannelEmail,
		Status: model.FollowUpPending, ScheduledAt: now.Add(time.Hour),
	}))

	result, err := sched.DispatchFollowUps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, courier.calls, "undue and orphaned tasks never reach the courier")

	// Claimed exactly once: a second pass finds nothing pending and due.
	result, err = sched.DispatchFollowUps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, courier.calls)
}

func TestScheduler_DispatchFollowUps_FailureRecorded(t *testing.T) {
	sched, st, _, courier := newTestScheduler(t)
	ctx := context.Background()
	courier.fail = true

	require.NoError(t, st.CreateLead(ctx, &model.Lead{ID: "l1", Email: "ada@example.com"}))
	require.NoError(t, st.CreateFollowUp(ctx, &model.FollowUpTask{
		ID: "t1", LeadID: "l1", Channel: model.ChannelEmail,
		Status: model.FollowUpPending, ScheduledAt: time.Now().Add(-time.Minute),
	}))

	result, err := sched.DispatchFollowUps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}
