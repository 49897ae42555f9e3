package model

// FieldDefinition describes one metadata field's identity and policy. Field
// definitions are immutable during normal operation; schema administration
// owns changes.
type FieldDefinition struct {
	ID                   string         `json:"id" yaml:"id"`
	Key                  string         `json:"key" yaml:"key"`
	Label                string         `json:"label,omitempty" yaml:"label,omitempty"`
	Type                 ValueType      `json:"type" yaml:"type"`
	Mode                 PopulationMode `json:"population_mode" yaml:"population_mode"`
	Editable             bool           `json:"editable" yaml:"editable"`
	RequiresReview       bool           `json:"requires_review" yaml:"requires_review"`
	SuppressionThreshold *float64       `json:"suppression_threshold,omitempty" yaml:"suppression_threshold,omitempty"`
}

// FieldRegistry is an indexed collection of field definitions.
type FieldRegistry struct {
	Fields []FieldDefinition
	byID   map[string]*FieldDefinition
	byKey  map[string]*FieldDefinition
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldDefinition) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byID:   make(map[string]*FieldDefinition, len(fields)),
		byKey:  make(map[string]*FieldDefinition, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byID[f.ID] = f
		r.byKey[f.Key] = f
	}
	return r
}

// ByID returns the field definition for the given id, or nil if not found.
func (r *FieldRegistry) ByID(id string) *FieldDefinition {
	return r.byID[id]
}

// ByKey returns the field definition for the given key, or nil if not found.
func (r *FieldRegistry) ByKey(key string) *FieldDefinition {
	return r.byKey[key]
}
