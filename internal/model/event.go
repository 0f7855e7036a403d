package model

import (
	"time"
)

// EventType identifies a session lifecycle or progress event.
type EventType string

const (
	EventSessionCompleted EventType = "session_completed"
	EventSessionPaused    EventType = "session_paused"
	EventSessionAbandoned EventType = "session_abandoned"
	EventSessionRecovery  EventType = "session_recovery"
	EventLeadCreated      EventType = "lead_created"
	EventLeadSynced       EventType = "lead_synced"
	EventHighValueSession EventType = "high_value_session"
)

// Tier is an independent notification delivery channel targeting a
// distinct audience. Delivery per tier is attempted independently.
type Tier string

const (
	TierCritical   Tier = "critical"
	TierAudit      Tier = "audit"
	TierActionable Tier = "actionable"
)

// Event is a notification payload fanned out to one or more tiers.
type Event struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Type      EventType         `json:"type"`
	Summary   string            `json:"summary"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
