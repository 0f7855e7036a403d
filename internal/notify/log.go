package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
)

// LogMessenger writes notifications to the log. Development fallback for
// running without NATS.
type LogMessenger struct {
	logger *logger.Logger
}

// NewLogMessenger creates a log-backed messenger.
func NewLogMessenger(log *logger.Logger) *LogMessenger {
	return &LogMessenger{logger: log}
}

// Send logs the event instead of delivering it.
func (m *LogMessenger) Send(_ context.Context, tier model.Tier, event *model.Event) error {
	m.logger.Info("notification",
		zap.String("tier", string(tier)),
		zap.String("event_type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.String("summary", event.Summary),
	)
	return nil
}

// LogCourier logs follow-up dispatches instead of sending them.
// Development fallback.
type LogCourier struct {
	logger *logger.Logger
}

// NewLogCourier creates a log-backed courier.
func NewLogCourier(log *logger.Logger) *LogCourier {
	return &LogCourier{logger: log}
}

// Send logs the dispatch and reports it as sent.
func (c *LogCourier) Send(_ context.Context, task *model.FollowUpTask, lead *model.Lead) (string, error) {
	c.logger.Info("follow-up dispatch",
		zap.String("task_id", task.ID),
		zap.String("channel", string(task.Channel)),
		zap.String("type", task.Type),
		zap.String("email", lead.Email),
	)
	return "log-" + task.ID, nil
}
