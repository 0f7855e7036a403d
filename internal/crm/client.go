// Package crm defines the external CRM collaborator interface and its
// HTTP implementation.
package crm

import (
	"context"
)

// LeadFields is the projection of a lead sent to the CRM.
type LeadFields struct {
	Email      string  `json:"email"`
	FirstName  string  `json:"first_name,omitempty"`
	LastName   string  `json:"last_name,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	Street     string  `json:"street,omitempty"`
	City       string  `json:"city,omitempty"`
	State      string  `json:"state,omitempty"`
	Zip        string  `json:"zip,omitempty"`
	PanelModel string  `json:"panel_model,omitempty"`
	PanelCount int     `json:"panel_count,omitempty"`
	CapacityKW float64 `json:"capacity_kw,omitempty"`
	NetPrice   float64 `json:"net_price,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Client is the external CRM. All calls are network I/O with explicit
// timeouts; failures are recoverable and retried on the next sweep.
type Client interface {
	// CreateLead creates a lead and returns its external id.
	CreateLead(ctx context.Context, fields LeadFields) (string, error)
	// UpdateLead updates an existing lead by external id.
	UpdateLead(ctx context.Context, externalID string, fields LeadFields) error
	// FindLeadByEmail returns the external id for email, or "" when the
	// CRM has no matching lead.
	FindLeadByEmail(ctx context.Context, email string) (string, error)
}
