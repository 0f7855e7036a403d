package model

import (
	"strings"
	"time"
)

// Lead is the primary-store record a session reconciles into. Email is
// unique (normalized); CRMID mirrors the record into the external CRM.
type Lead struct {
	ID    string `json:"id"`
	Email string `json:"email"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`

	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`

	PanelModel string  `json:"panel_model,omitempty"`
	PanelCount int     `json:"panel_count,omitempty"`
	CapacityKW float64 `json:"capacity_kw,omitempty"`
	NetPrice   float64 `json:"net_price,omitempty"`

	Source SessionKind `json:"source"`
	CRMID  string      `json:"crm_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email for dedup lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LeadFromSession projects a session's collected data into lead fields.
func LeadFromSession(s *Session) *Lead {
	lead := &Lead{
		Email:  s.CollectedData.Email(),
		Source: s.Kind,
	}
	if c := s.CollectedData.Contact; c != nil {
		if c.FirstName != nil {
			lead.FirstName = *c.FirstName
		}
		if c.LastName != nil {
			lead.LastName = *c.LastName
		}
		if c.Phone != nil {
			lead.Phone = *c.Phone
		}
	}
	if a := s.CollectedData.Address; a != nil {
		if a.Street != nil {
			lead.Street = *a.Street
		}
		if a.City != nil {
			lead.City = *a.City
		}
		if a.State != nil {
			lead.State = *a.State
		}
		if a.Zip != nil {
			lead.Zip = *a.Zip
		}
	}
	if sys := s.CollectedData.System; sys != nil {
		if sys.PanelModel != nil {
			lead.PanelModel = *sys.PanelModel
		}
		if sys.PanelCount != nil {
			lead.PanelCount = *sys.PanelCount
		}
		if sys.CapacityKW != nil {
			lead.CapacityKW = *sys.CapacityKW
		}
	}
	if p := s.CollectedData.Pricing; p != nil && p.NetPrice != nil {
		lead.NetPrice = *p.NetPrice
	}
	return lead
}

// MergeFrom copies the non-zero fields of src into l, leaving existing
// values in place where src has nothing. Used when a second session with
// the same email reconciles into an existing lead.
func (l *Lead) MergeFrom(src *Lead) {
	if src.FirstName != "" {
		l.FirstName = src.FirstName
	}
	if src.LastName != "" {
		l.LastName = src.LastName
	}
	if src.Phone != "" {
		l.Phone = src.Phone
	}
	if src.Street != "" {
		l.Street = src.Street
	}
	if src.City != "" {
		l.City = src.City
	}
	if src.State != "" {
		l.State = src.State
	}
	if src.Zip != "" {
		l.Zip = src.Zip
	}
	if src.PanelModel != "" {
		l.PanelModel = src.PanelModel
	}
	if src.PanelCount != 0 {
		l.PanelCount = src.PanelCount
	}
	if src.CapacityKW != 0 {
		l.CapacityKW = src.CapacityKW
	}
	if src.NetPrice != 0 {
		l.NetPrice = src.NetPrice
	}
}

// FollowUpStatus is the delivery status of a scheduled follow-up.
type FollowUpStatus string

const (
	FollowUpPending FollowUpStatus = "pending"
	FollowUpSent    FollowUpStatus = "sent"
	FollowUpFailed  FollowUpStatus = "failed"
	FollowUpSkipped FollowUpStatus = "skipped"
)

// FollowUpChannel is the delivery channel for a follow-up.
type FollowUpChannel string

const (
	ChannelEmail FollowUpChannel = "email"
	ChannelSMS   FollowUpChannel = "sms"
)

// FollowUpTask is a scheduled one-shot communication derived from a lead.
// Tasks are created by an external scheduling collaborator; this engine
// only claims and dispatches them.
type FollowUpTask struct {
	ID          string            `json:"id"`
	LeadID      string            `json:"lead_id"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Channel     FollowUpChannel   `json:"channel"`
	Type        string            `json:"type"`
	Status      FollowUpStatus    `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	ResultMessageID string `json:"result_message_id,omitempty"`
	ResultError     string `json:"result_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
