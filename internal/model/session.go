// Package model defines data structures for the lead capture engine.
package model

import (
	"time"
)

// SessionKind distinguishes step-based wizard flows from phase-based
// assistant conversations. Both kinds share the same status machine.
type SessionKind string

const (
	KindWizard    SessionKind = "wizard"
	KindAssistant SessionKind = "assistant"
)

// SessionStatus is the lifecycle status of a capture session.
type SessionStatus string

const (
	StatusActive          SessionStatus = "active"
	StatusPaused          SessionStatus = "paused"
	StatusCompleted       SessionStatus = "completed"
	StatusAbandoned       SessionStatus = "abandoned"
	StatusConvertedToLead SessionStatus = "converted_to_lead"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusAbandoned || s == StatusConvertedToLead
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one entry in a session's append-only history.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact holds the customer's identity fields.
type Contact struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// Address holds the installation address and its coordinates.
type Address struct {
	Street *string  `json:"street,omitempty"`
	City   *string  `json:"city,omitempty"`
	State  *string  `json:"state,omitempty"`
	Zip    *string  `json:"zip,omitempty"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
}

// Consumption holds the customer's reported energy usage.
type Consumption struct {
	MonthlyKWh  *float64 `json:"monthly_kwh,omitempty"`
	MonthlyBill *float64 `json:"monthly_bill,omitempty"`
}

// System holds the selected panel and battery configuration.
type System struct {
	PanelModel   *string  `json:"panel_model,omitempty"`
	PanelCount   *int     `json:"panel_count,omitempty"`
	CapacityKW   *float64 `json:"capacity_kw,omitempty"`
	BatteryModel *string  `json:"battery_model,omitempty"`
	BatteryCount *int     `json:"battery_count,omitempty"`
}

// Financing holds the selected financing terms.
type Financing struct {
	Plan        *string  `json:"plan,omitempty"`
	TermMonths  *int     `json:"term_months,omitempty"`
	APR         *float64 `json:"apr,omitempty"`
	DownPayment *float64 `json:"down_payment,omitempty"`
}

// Pricing holds the computed quote figures.
type Pricing struct {
	GrossPrice       *float64 `json:"gross_price,omitempty"`
	NetPrice         *float64 `json:"net_price,omitempty"`
	EstAnnualSavings *float64 `json:"est_annual_savings,omitempty"`
}

// CollectedData is everything a session has gathered so far. Fields are
// pointers so a partial update can distinguish "not provided" from a real
// value; merges are additive and never null out a stored field unless the
// caller names it in Clear.
type CollectedData struct {
	Contact     *Contact     `json:"contact,omitempty"`
	Address     *Address     `json:"address,omitempty"`
	Consumption *Consumption `json:"consumption,omitempty"`
	System      *System      `json:"system,omitempty"`
	Financing   *Financing   `json:"financing,omitempty"`
	Pricing     *Pricing     `json:"pricing,omitempty"`
}

// Merge folds incoming into d. Scalars are last-writer-wins when the
// incoming value is non-nil; nil incoming fields leave stored values alone.
func (d *CollectedData) Merge(incoming *CollectedData) {
	if incoming == nil {
		return
	}
	if incoming.Contact != nil {
		if d.Contact == nil {
			d.Contact = &Contact{}
		}
		mergeContact(d.Contact, incoming.Contact)
	}
	if incoming.Address != nil {
		if d.Address == nil {
			d.Address = &Address{}
		}
		mergeAddress(d.Address, incoming.Address)
	}
	if incoming.Consumption != nil {
		if d.Consumption == nil {
			d.Consumption = &Consumption{}
		}
		if incoming.Consumption.MonthlyKWh != nil {
			d.Consumption.MonthlyKWh = incoming.Consumption.MonthlyKWh
		}
		if incoming.Consumption.MonthlyBill != nil {
			d.Consumption.MonthlyBill = incoming.Consumption.MonthlyBill
		}
	}
	if incoming.System != nil {
		if d.System == nil {
			d.System = &System{}
		}
		mergeSystem(d.System, incoming.System)
	}
	if incoming.Financing != nil {
		if d.Financing == nil {
			d.Financing = &Financing{}
		}
		mergeFinancing(d.Financing, incoming.Financing)
	}
	if incoming.Pricing != nil {
		if d.Pricing == nil {
			d.Pricing = &Pricing{}
		}
		if incoming.Pricing.GrossPrice != nil {
			d.Pricing.GrossPrice = incoming.Pricing.GrossPrice
		}
		if incoming.Pricing.NetPrice != nil {
			d.Pricing.NetPrice = incoming.Pricing.NetPrice
		}
		if incoming.Pricing.EstAnnualSavings != nil {
			d.Pricing.EstAnnualSavings = incoming.Pricing.EstAnnualSavings
		}
	}
}

func mergeContact(dst, src *Contact) {
	if src.FirstName != nil {
		dst.FirstName = src.FirstName
	}
	if src.LastName != nil {
		dst.LastName = src.LastName
	}
	if src.Email != nil {
		dst.Email = src.Email
	}
	if src.Phone != nil {
		dst.Phone = src.Phone
	}
}

func mergeAddress(dst, src *Address) {
	if src.Street != nil {
		dst.Street = src.Street
	}
	if src.City != nil {
		dst.City = src.City
	}
	if src.State != nil {
		dst.State = src.State
	}
	if src.Zip != nil {
		dst.Zip = src.Zip
	}
	if src.Lat != nil {
		dst.Lat = src.Lat
	}
	if src.Lng != nil {
		dst.Lng = src.Lng
	}
}

func mergeSystem(dst, src *System) {
	if src.PanelModel != nil {
		dst.PanelModel = src.PanelModel
	}
	if src.PanelCount != nil {
		dst.PanelCount = src.PanelCount
	}
	if src.CapacityKW != nil {
		dst.CapacityKW = src.CapacityKW
	}
	if src.BatteryModel != nil {
		dst.BatteryModel = src.BatteryModel
	}
	if src.BatteryCount != nil {
		dst.BatteryCount = src.BatteryCount
	}
}

func mergeFinancing(dst, src *Financing) {
	if src.Plan != nil {
		dst.Plan = src.Plan
	}
	if src.TermMonths != nil {
		dst.TermMonths = src.TermMonths
	}
	if src.APR != nil {
		dst.APR = src.APR
	}
	if src.DownPayment != nil {
		dst.DownPayment = src.DownPayment
	}
}

// Email returns the normalized (lower-cased, trimmed) contact email, or "".
func (d *CollectedData) Email() string {
	if d == nil || d.Contact == nil || d.Contact.Email == nil {
		return ""
	}
	return NormalizeEmail(*d.Contact.Email)
}

// HasAddress reports whether a usable installation address was collected.
func (d *CollectedData) HasAddress() bool {
	return d != nil && d.Address != nil && d.Address.Street != nil && d.Address.Zip != nil
}

// HasSystem reports whether a system or battery selection was made.
func (d *CollectedData) HasSystem() bool {
	if d == nil || d.System == nil {
		return false
	}
	return d.System.PanelModel != nil || d.System.BatteryModel != nil
}

// HasPrice reports whether a total price was computed.
func (d *CollectedData) HasPrice() bool {
	return d != nil && d.Pricing != nil && d.Pricing.NetPrice != nil
}

// SubstantialProgress is the cutoff separating real prospects from
// sessions that only left an email or phone number.
func (d *CollectedData) SubstantialProgress() bool {
	return d.HasAddress() || d.HasSystem() || d.HasPrice()
}

// Session is a persisted, resumable record of one customer's progress
// through a capture flow.
type Session struct {
	ID          string      `json:"id"`
	ResumeToken string      `json:"resume_token,omitempty"`
	Kind        SessionKind `json:"kind"`

	Status              SessionStatus `json:"status"`
	Phase               int           `json:"phase"`
	HighestPhaseReached int           `json:"highest_phase_reached"`

	CollectedData       CollectedData      `json:"collected_data"`
	ConversationHistory []ConversationTurn `json:"conversation_history,omitempty"`

	// CRMLeadID is set at most once and acts as the idempotency key for
	// reconciliation.
	CRMLeadID string `json:"crm_lead_id,omitempty"`

	RecoveryNotifiedAt *time.Time `json:"recovery_notified_at,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateSessionRequest is the request to open a new session.
type CreateSessionRequest struct {
	Kind SessionKind    `json:"kind"`
	Data *CollectedData `json:"data,omitempty"`
}

// UpdateSessionRequest is a partial data merge.
type UpdateSessionRequest struct {
	Data *CollectedData `json:"data,omitempty"`
}

// AdvanceRequest carries data supplied with a phase advance.
type AdvanceRequest struct {
	Data *CollectedData `json:"data,omitempty"`
}

// ResumeRequest re-enters a paused session.
type ResumeRequest struct {
	Token string `json:"token"`
}

// AppendTurnRequest adds one conversation turn.
type AppendTurnRequest struct {
	Content string `json:"content"`
}

// AppendTurnResponse returns the stored turn and, when an assistant
// backend is configured, the generated reply.
type AppendTurnResponse struct {
	Turn  ConversationTurn  `json:"turn"`
	Reply *ConversationTurn `json:"reply,omitempty"`
}

// SaveResponse reports the outcome of the live CRM save action.
type SaveResponse struct {
	CRMLeadID      string `json:"crm_lead_id"`
	AlreadyCreated bool   `json:"already_created"`
}

// ListSessionsResponse is the admin listing response.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}

// ApplyDefaults fills the zero-valued fields of a create request. This is
// the single defaulting pass; handlers never patch in fallbacks themselves.
func (r *CreateSessionRequest) ApplyDefaults() {
	if r.Kind == "" {
		r.Kind = KindWizard
	}
	if r.Data == nil {
		r.Data = &CollectedData{}
	}
}
