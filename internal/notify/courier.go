package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

// CourierSubjectPrefix is the prefix for outbound customer messages.
const CourierSubjectPrefix = "courier"

// courierPayload is what the external sending service consumes.
type courierPayload struct {
	DispatchID string            `json:"dispatch_id"`
	TaskID     string            `json:"task_id"`
	Type       string            `json:"type"`
	Email      string            `json:"email,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	FirstName  string            `json:"first_name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NATSCourier hands follow-up messages to the external sender over NATS
// subjects courier.<channel>. The returned message id is the dispatch id
// recorded on the task; the sender reconciles its own delivery receipts
// against it.
type NATSCourier struct {
	conn *NATSMessenger
}

// NewNATSCourier creates a courier on an existing NATS connection.
func NewNATSCourier(conn *NATSMessenger) *NATSCourier {
	return &NATSCourier{conn: conn}
}

// Send publishes one follow-up message.
func (c *NATSCourier) Send(_ context.Context, task *model.FollowUpTask, lead *model.Lead) (string, error) {
	payload := courierPayload{
		DispatchID: uuid.Must(uuid.NewV7()).String(),
		TaskID:     task.ID,
		Type:       task.Type,
		FirstName:  lead.FirstName,
		Metadata:   task.Metadata,
	}
	switch task.Channel {
	case model.ChannelSMS:
		payload.Phone = lead.Phone
	default:
		payload.Email = lead.Email
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal courier payload")
	}
	subject := CourierSubjectPrefix + "." + string(task.Channel)
	if err := c.conn.conn.Publish(subject, data); err != nil {
		return "", model.NewUpstreamError("nats", err)
	}
	return payload.DispatchID, nil
}
