package model

import "time"

// ValueEntry is one row of the append-only metadata value ledger. A row's
// value is never updated in place; edits append new rows. Only approval
// stamps and the terminal rejected-source flip touch an existing row.
type ValueEntry struct {
	ID           int64      `json:"id"`
	AssetID      string     `json:"asset_id"`
	FieldID      string     `json:"field_id"`
	Value        string     `json:"value"`
	Source       Source     `json:"source"`
	Producer     Producer   `json:"producer"`
	Confidence   *float64   `json:"confidence,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	OverriddenAt *time.Time `json:"overridden_at,omitempty"`
	OverriddenBy string     `json:"overridden_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Approved reports whether the entry carries an approval stamp.
func (e *ValueEntry) Approved() bool {
	return e.ApprovedAt != nil
}

// Pending reports whether the entry is awaiting approval: unapproved,
// not rejected, and from a source that approval gates at all.
func (e *ValueEntry) Pending() bool {
	return e.ApprovedAt == nil && !e.Source.Rejected() && e.Source.Gated()
}

// HistoryEntry is one row of the derived audit trail. Written in the same
// transaction as every committed value transition; never read for resolution.
type HistoryEntry struct {
	ID       int64     `json:"id"`
	EntryID  int64     `json:"entry_id"`
	AssetID  string    `json:"asset_id"`
	FieldID  string    `json:"field_id"`
	OldValue *string   `json:"old_value,omitempty"`
	NewValue *string   `json:"new_value,omitempty"`
	Actor    string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor identifies who is performing an operation. Identity and role storage
// are external; the service only consumes opaque capability checks scoped by
// brand and tenant.
type Actor struct {
	ID       string `json:"id"`
	BrandID  string `json:"brand_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// ResolvedField is the computed canonical view of one field on one asset.
// Recomputed from the ledger on every request, never cached across writes.
type ResolvedField struct {
	Approved   *ValueEntry `json:"approved,omitempty"`
	Pending    *ValueEntry `json:"pending,omitempty"`
	HasPending bool        `json:"has_pending"`
	// Values carries the accumulated union for multiselect fields.
	Values []string `json:"values,omitempty"`
}

// ResolvedState maps field id to its resolved view for one asset.
type ResolvedState map[string]ResolvedField

// EditableField describes one field from an editor's point of view.
type EditableField struct {
	FieldID      string         `json:"field_id"`
	Key          string         `json:"key"`
	CurrentValue string         `json:"current_value,omitempty"`
	CanEdit      bool           `json:"can_edit"`
	IsPending    bool           `json:"is_pending"`
	ReadOnly     bool           `json:"readonly"`
	Mode         PopulationMode `json:"population_mode"`
}
