package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     ValueType
		raw     string
		want    string
		wantErr bool
	}{
		{"text passthrough", TypeText, "a photo of a sunset", "a photo of a sunset", false},
		{"number normalized", TypeNumber, " 4.50 ", "4.5", false},
		{"number invalid", TypeNumber, "four", "", true},
		{"boolean true", TypeBoolean, "TRUE", "true", false},
		{"boolean false", TypeBoolean, "false", "false", false},
		{"boolean invalid", TypeBoolean, "yes", "", true},
		{"date valid", TypeDate, "2024-03-01", "2024-03-01", false},
		{"date invalid", TypeDate, "03/01/2024", "", true},
		{"select valid", TypeSelect, " outdoor ", "outdoor", false},
		{"select empty", TypeSelect, "  ", "", true},
		{"multiselect array", TypeMultiselect, `["sunset","beach"]`, `["sunset","beach"]`, false},
		{"multiselect bare string", TypeMultiselect, "sunset", `["sunset"]`, false},
		{"multiselect dedup", TypeMultiselect, `["a","b","a"]`, `["a","b"]`, false},
		{"multiselect invalid", TypeMultiselect, `[1,2]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateValue(tt.typ, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMultiselect_Empty(t *testing.T) {
	vals, err := ParseMultiselect("")
	require.NoError(t, err)
	assert.Nil(t, vals)
}

func TestFieldRegistry_Lookups(t *testing.T) {
	reg := NewFieldRegistry([]FieldDefinition{
		{ID: "f-1", Key: "quality_rating", Type: TypeNumber, Mode: ModeManual, Editable: true, RequiresReview: true},
		{ID: "f-2", Key: "scene_classification", Type: TypeSelect, Mode: ModeHybrid, Editable: true},
	})

	require.NotNil(t, reg.ByID("f-1"))
	assert.Equal(t, "quality_rating", reg.ByID("f-1").Key)
	require.NotNil(t, reg.ByKey("scene_classification"))
	assert.Equal(t, "f-2", reg.ByKey("scene_classification").ID)
	assert.Nil(t, reg.ByID("missing"))
	assert.Nil(t, reg.ByKey("missing"))
}
