// Package notify fans session lifecycle events out to staff notification
// tiers.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/cache"
	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
	"github.com/brightpath-solar/lead-funnel/pkg/metrics"
)

// Messenger delivers one event to one tier. Implementations are network
// I/O; a failure is logged by the router and never raised to the caller.
type Messenger interface {
	Send(ctx context.Context, tier model.Tier, event *model.Event) error
}

// DefaultCooldown suppresses identical (session, event) repeats.
const DefaultCooldown = 30 * time.Second

// defaultRoutes maps each event type to its delivery tiers. Every event
// reaches the audit tier; only events a human should act on reach the
// actionable or critical tiers.
var defaultRoutes = map[model.EventType][]model.Tier{
	model.EventSessionCompleted: {model.TierActionable, model.TierAudit},
	model.EventSessionPaused:    {model.TierAudit},
	model.EventSessionAbandoned: {model.TierCritical, model.TierAudit},
	model.EventSessionRecovery:  {model.TierActionable, model.TierAudit},
	model.EventLeadCreated:      {model.TierActionable, model.TierAudit},
	model.EventLeadSynced:       {model.TierAudit},
	model.EventHighValueSession: {model.TierCritical, model.TierActionable, model.TierAudit},
}

// Router routes events to tiers with a per-(session, event) cooldown.
// The limiter is process-local and best-effort: its job is spam
// reduction, not correctness.
type Router struct {
	messenger Messenger
	limiter   cache.Cache
	cooldown  time.Duration
	routes    map[model.EventType][]model.Tier
	logger    *logger.Logger
}

// NewRouter creates a Router. A zero cooldown falls back to
// DefaultCooldown.
func NewRouter(messenger Messenger, limiter cache.Cache, cooldown time.Duration, log *logger.Logger) *Router {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Router{
		messenger: messenger,
		limiter:   limiter,
		cooldown:  cooldown,
		routes:    defaultRoutes,
		logger:    log,
	}
}

// Notify delivers event to every tier its type routes to. Each tier is
// attempted independently; one tier failing does not stop the others.
// Returns the number of tiers delivered.
func (r *Router) Notify(ctx context.Context, event *model.Event) int {
	key := event.SessionID + ":" + string(event.Type)
	if _, seen := r.limiter.Get(ctx, key); seen {
		metrics.NotificationsSuppressed.Inc()
		return 0
	}
	r.limiter.SetWithTTL(ctx, key, struct{}{}, r.cooldown)

	tiers, ok := r.routes[event.Type]
	if !ok {
		tiers = []model.Tier{model.TierAudit}
	}

	delivered := 0
	for _, tier := range tiers {
		if err := r.messenger.Send(ctx, tier, event); err != nil {
			metrics.NotificationsTotal.WithLabelValues(string(tier), "error").Inc()
			r.logger.Warn("notification delivery failed",
				zap.String("tier", string(tier)),
				zap.String("event_type", string(event.Type)),
				zap.String("session_id", event.SessionID),
				zap.Error(err),
			)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(string(tier), "ok").Inc()
		delivered++
	}
	return delivered
}
