// Package session owns the phase state machine and session operations.
package session

import (
	"github.com/brightpath-solar/lead-funnel/internal/model"
)

// Wizard steps and assistant phases. Both kinds share the status machine;
// only the phase table differs.
var phaseTables = map[model.SessionKind][]string{
	model.KindWizard:    {"contact", "address", "consumption", "system", "financing", "review"},
	model.KindAssistant: {"intro", "qualify", "design", "quote", "wrapup"},
}

// Phases returns the ordered phase names for kind.
func Phases(kind model.SessionKind) []string {
	return phaseTables[kind]
}

// FinalPhase returns the index of the last phase for kind.
func FinalPhase(kind model.SessionKind) int {
	return len(phaseTables[kind]) - 1
}

// PhaseName returns the name of phase for kind, or "" when out of range.
func PhaseName(kind model.SessionKind, phase int) string {
	table := phaseTables[kind]
	if phase < 0 || phase >= len(table) {
		return ""
	}
	return table[phase]
}

// validateAdvance checks that the data required by the session's current
// phase is present before the phase may advance. The check runs against
// the merged view (stored data plus the advance request's payload), so a
// field supplied in either place satisfies it.
func validateAdvance(kind model.SessionKind, phase int, d *model.CollectedData) error {
	if kind != model.KindWizard {
		// Assistant phases carry no per-phase required fields; the
		// assistant decides pacing and completion enforces the rest.
		return nil
	}
	switch PhaseName(kind, phase) {
	case "contact":
		if d.Email() == "" {
			return model.NewValidationError("contact.email", "required to continue")
		}
	case "address":
		if !d.HasAddress() {
			if d.Address == nil || d.Address.Street == nil {
				return model.NewValidationError("address.street", "required to continue")
			}
			return model.NewValidationError("address.zip", "required to continue")
		}
	case "consumption":
		if d.Consumption == nil || (d.Consumption.MonthlyKWh == nil && d.Consumption.MonthlyBill == nil) {
			return model.NewValidationError("consumption.monthly_kwh", "usage or bill required to continue")
		}
	case "system":
		if !d.HasSystem() {
			return model.NewValidationError("system.panel_model", "a system selection is required to continue")
		}
	case "financing":
		if d.Financing == nil || d.Financing.Plan == nil {
			return model.NewValidationError("financing.plan", "required to continue")
		}
	}
	return nil
}

// validateComplete checks the data a session must hold before the
// explicit completion signal is honored.
func validateComplete(d *model.CollectedData) error {
	if d.Email() == "" {
		return model.NewValidationError("contact.email", "required to complete")
	}
	if !d.SubstantialProgress() {
		return model.NewValidationError("collected_data", "an address, system selection, or computed price is required to complete")
	}
	return nil
}
