package model

import "time"

// Candidate is a producer proposal held outside the ledger until a reviewer
// accepts or dismisses it. ResolvedAt and DismissedAt are mutually exclusive
// terminal markers.
type Candidate struct {
	ID          string     `json:"id"`
	AssetID     string     `json:"asset_id"`
	FieldID     string     `json:"field_id"`
	Value       string     `json:"value"`
	Canonical   string     `json:"canonical"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Producer    Producer   `json:"producer"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}

// Open reports whether the candidate is still awaiting review.
func (c *Candidate) Open() bool {
	return c.ResolvedAt == nil && c.DismissedAt == nil
}
