package resolver

import "github.com/brandvault/metaledger/internal/model"

// Suppressor hides low-confidence machine output from the resolved view.
// Suppression is presentation-only: the ledger row survives and still appears
// in approval and audit surfaces.
type Suppressor struct {
	defaultThreshold float64
	thresholds       map[string]float64
}

// NewSuppressor creates a Suppressor with a default threshold and optional
// per-field-key overrides.
func NewSuppressor(defaultThreshold float64, thresholds map[string]float64) *Suppressor {
	return &Suppressor{defaultThreshold: defaultThreshold, thresholds: thresholds}
}

// ShouldSuppress reports whether a value at the given confidence should be
// hidden for the field. Nil confidence is never suppressed.
func (s *Suppressor) ShouldSuppress(field *model.FieldDefinition, confidence *float64) bool {
	if confidence == nil {
		return false
	}
	threshold := s.defaultThreshold
	if t, ok := s.thresholds[field.Key]; ok {
		threshold = t
	}
	if field.SuppressionThreshold != nil {
		threshold = *field.SuppressionThreshold
	}
	return *confidence < threshold
}

// suppressed reports whether the entry is hidden from the resolved view.
// Only ai-populated fields suppress, and only machine-authored rows;
// automatic and system fields are authoritative regardless of any confidence
// figure incidentally stored.
func (s *Suppressor) suppressed(field *model.FieldDefinition, e *model.ValueEntry) bool {
	if field.Mode != model.ModeAI {
		return false
	}
	if e.Producer != model.ProducerAI {
		return false
	}
	return s.ShouldSuppress(field, e.Confidence)
}
