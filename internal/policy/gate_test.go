package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandvault/metaledger/internal/model"
)

func TestGate_RequiresApproval(t *testing.T) {
	reviewed := &model.FieldDefinition{ID: "f-1", Key: "quality_rating", Mode: model.ModeManual, RequiresReview: true}
	unreviewed := &model.FieldDefinition{ID: "f-2", Key: "notes", Mode: model.ModeManual}
	autoField := &model.FieldDefinition{ID: "f-3", Key: "dominant_color", Mode: model.ModeAutomatic, RequiresReview: true}
	systemField := &model.FieldDefinition{ID: "f-4", Key: "file_checksum", Mode: model.ModeSystem, RequiresReview: true}

	actor := model.Actor{ID: "u-1", BrandID: "b-1", TenantID: "t-1"}
	gate := NewGate(AllowAll())
	ctx := context.Background()

	tests := []struct {
		name   string
		field  *model.FieldDefinition
		source model.Source
		want   bool
	}{
		{"user write on reviewed field", reviewed, model.SourceUser, true},
		{"ai write on reviewed field", reviewed, model.SourceAI, true},
		{"user write on unreviewed field", unreviewed, model.SourceUser, false},
		{"automatic source never gated", reviewed, model.SourceAutomatic, false},
		{"system source never gated", reviewed, model.SourceSystem, false},
		{"manual override never gated", reviewed, model.SourceManualOverride, false},
		{"automatic mode never gated", autoField, model.SourceUser, false},
		{"system mode never gated", systemField, model.SourceAI, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gate.RequiresApproval(ctx, tt.field, tt.source, actor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_BypassCapability(t *testing.T) {
	field := &model.FieldDefinition{ID: "f-1", Key: "quality_rating", Mode: model.ModeManual, RequiresReview: true}
	ctx := context.Background()

	brandGate := NewGate(&StaticChecker{BrandBypass: map[string]bool{"b-1": true}})
	got, err := brandGate.RequiresApproval(ctx, field, model.SourceUser, model.Actor{ID: "u-1", BrandID: "b-1"})
	require.NoError(t, err)
	assert.False(t, got, "brand-scoped bypass should skip approval")

	tenantGate := NewGate(&StaticChecker{TenantBypass: map[string]bool{"t-1": true}})
	got, err = tenantGate.RequiresApproval(ctx, field, model.SourceUser, model.Actor{ID: "u-1", TenantID: "t-1"})
	require.NoError(t, err)
	assert.False(t, got, "tenant-scoped bypass should skip approval")

	noBypass := NewGate(&StaticChecker{BrandBypass: map[string]bool{"other": true}})
	got, err = noBypass.RequiresApproval(ctx, field, model.SourceUser, model.Actor{ID: "u-1", BrandID: "b-1"})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestParseFields(t *testing.T) {
	yaml := `
- id: f-1
  key: quality_rating
  type: number
  population_mode: manual
  editable: true
  requires_review: true
- id: f-2
  key: scene_classification
  type: select
  population_mode: hybrid
  editable: true
  suppression_threshold: 0.8
`
	reg, err := ParseFields([]byte(yaml))
	require.NoError(t, err)
	require.Len(t, reg.Fields, 2)

	f := reg.ByKey("quality_rating")
	require.NotNil(t, f)
	assert.Equal(t, model.TypeNumber, f.Type)
	assert.True(t, f.RequiresReview)

	f = reg.ByID("f-2")
	require.NotNil(t, f)
	assert.Equal(t, model.ModeHybrid, f.Mode)
	require.NotNil(t, f.SuppressionThreshold)
	assert.InDelta(t, 0.8, *f.SuppressionThreshold, 0.001)
}

func TestParseFields_InvalidEnum(t *testing.T) {
	_, err := ParseFields([]byte("- id: f-1\n  key: x\n  type: blob\n  population_mode: manual\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown value type")

	_, err = ParseFields([]byte("- id: f-1\n  key: x\n  type: text\n  population_mode: psychic\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown population mode")

	_, err = ParseFields([]byte("- key: x\n  type: text\n  population_mode: manual\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id or key")
}
