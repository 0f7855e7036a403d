package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

func TestPhaseTables(t *testing.T) {
	assert.Equal(t, 5, FinalPhase(model.KindWizard))
	assert.Equal(t, 4, FinalPhase(model.KindAssistant))
	assert.Equal(t, "contact", PhaseName(model.KindWizard, 0))
	assert.Equal(t, "review", PhaseName(model.KindWizard, 5))
	assert.Equal(t, "", PhaseName(model.KindWizard, 6))
}

func TestValidateAdvance_Wizard(t *testing.T) {
	tests := []struct {
		name      string
		phase     int
		data      model.CollectedData
		wantField string
	}{
		{"contact missing email", 0, model.CollectedData{}, "contact.email"},
		{
			"contact ok",
			0,
			model.CollectedData{Contact: &model.Contact{Email: strPtr("a@example.com")}},
			"",
		},
		{"address missing street", 1, model.CollectedData{}, "address.street"},
		{
			"address missing zip",
			1,
			model.CollectedData{Address: &model.Address{Street: strPtr("1 Main St")}},
			"address.zip",
		},
		{"consumption missing", 2, model.CollectedData{}, "consumption.monthly_kwh"},
		{
			"consumption bill suffices",
			2,
			model.CollectedData{Consumption: &model.Consumption{MonthlyBill: f64Ptr(210)}},
			"",
		},
		{"system missing", 3, model.CollectedData{}, "system.panel_model"},
		{"financing missing", 4, model.CollectedData{}, "financing.plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAdvance(model.KindWizard, tt.phase, &tt.data)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestValidateAdvance_AssistantUnconstrained(t *testing.T) {
	assert.NoError(t, validateAdvance(model.KindAssistant, 0, &model.CollectedData{}))
	assert.NoError(t, validateAdvance(model.KindAssistant, 3, &model.CollectedData{}))
}

func TestValidateComplete(t *testing.T) {
	err := validateComplete(&model.CollectedData{})
	assert.True(t, model.IsValidation(err))

	err = validateComplete(&model.CollectedData{
		Contact: &model.Contact{Email: strPtr("a@example.com")},
	})
	assert.True(t, model.IsValidation(err))

	err = validateComplete(&model.CollectedData{
		Contact: &model.Contact{Email: strPtr("a@example.com")},
		System:  &model.System{PanelModel: strPtr("SunMax 400")},
	})
	assert.NoError(t, err)
}
