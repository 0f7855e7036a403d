package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
)

// SubjectPrefix is the prefix for all notification subjects.
const SubjectPrefix = "notify"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL   string
	Token string
}

// NATSMessenger publishes tier notifications to NATS subjects of the
// form notify.<tier>.<event_type>. Downstream consumers (Slack bridge,
// email digester, staff dashboard) subscribe per tier.
type NATSMessenger struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// ConnectNATS establishes the NATS connection used for notifications.
func ConnectNATS(cfg NATSConfig, log *logger.Logger) (*NATSMessenger, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect to NATS")
	}
	return &NATSMessenger{conn: nc, logger: log}, nil
}

// Subject returns the subject for a tier and event type.
func Subject(tier model.Tier, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, tier, eventType)
}

// Send publishes event to the tier's subject.
func (m *NATSMessenger) Send(_ context.Context, tier model.Tier, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := m.conn.Publish(Subject(tier, event.Type), data); err != nil {
		return model.NewUpstreamError("nats", err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (m *NATSMessenger) IsConnected() bool {
	return m.conn != nil && m.conn.IsConnected()
}

// Close drains and closes the connection.
func (m *NATSMessenger) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
