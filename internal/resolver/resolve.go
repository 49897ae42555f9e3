// Package resolver computes the canonical per-field state of an asset from
// the append-only value ledger. Resolution is recomputed from the full row
// set on every request and never cached across writes.
package resolver

import (
	"github.com/brandvault/metaledger/internal/model"
)

// Viewer carries the caller-dependent inputs to resolution: pending rows are
// only visible to callers who could act on them.
type Viewer struct {
	// CanApprove grants preview-while-pending visibility.
	CanApprove bool
	// Unsuppressed disables confidence suppression (approval/audit surfaces).
	Unsuppressed bool
}

// approvedWins reports whether entry a beats entry b for the approved slot.
// Recency of approval wins; source precedence breaks timestamp ties; entry id
// breaks the rest (later append wins).
func approvedWins(a, b *model.ValueEntry) bool {
	if !a.ApprovedAt.Equal(*b.ApprovedAt) {
		return a.ApprovedAt.After(*b.ApprovedAt)
	}
	if pa, pb := a.Source.Precedence(), b.Source.Precedence(); pa != pb {
		return pa > pb
	}
	return a.ID > b.ID
}

// Resolve computes the resolved view of every field that has ledger rows,
// applying rejection filtering, approval selection, pending accounting,
// confidence suppression, and multiselect accumulation.
func Resolve(entries []model.ValueEntry, reg *model.FieldRegistry, sup *Suppressor, viewer Viewer) model.ResolvedState {
	byField := make(map[string][]*model.ValueEntry)
	for i := range entries {
		e := &entries[i]
		byField[e.FieldID] = append(byField[e.FieldID], e)
	}

	state := make(model.ResolvedState, len(byField))
	for fieldID, rows := range byField {
		field := reg.ByID(fieldID)
		if field == nil {
			// Rows for fields no longer in the schema are not resolvable.
			continue
		}
		state[fieldID] = resolveField(field, rows, sup, viewer)
	}
	return state
}

func resolveField(field *model.FieldDefinition, rows []*model.ValueEntry, sup *Suppressor, viewer Viewer) model.ResolvedField {
	var approved, pending *model.ValueEntry
	var contributing []*model.ValueEntry

	for _, e := range rows {
		if e.Source.Rejected() {
			continue
		}
		if !viewer.Unsuppressed && sup != nil && sup.suppressed(field, e) {
			continue
		}
		if e.Approved() {
			contributing = append(contributing, e)
			if approved == nil || approvedWins(e, approved) {
				approved = e
			}
			continue
		}
		// Latest unapproved row wins the pending slot; rows iterate in
		// insertion order.
		if pending == nil || e.ID > pending.ID {
			pending = e
		}
	}

	rf := model.ResolvedField{
		Approved:   approved,
		Pending:    pending,
		HasPending: pending != nil && pending.Source.Gated(),
	}

	// Pending rows are visible only to approvers, except on automatic fields
	// where values are authoritative the instant they exist.
	if !viewer.CanApprove && !field.Mode.Authoritative() {
		rf.Pending = nil
	}

	if field.Type == model.TypeMultiselect {
		rf.Values = accumulateValues(contributing, rf.Pending)
	}
	return rf
}

// accumulateValues unions multiselect values across every row contributing to
// the canonical set, preserving first-seen order.
func accumulateValues(approved []*model.ValueEntry, pending *model.ValueEntry) []string {
	var union []string
	seen := make(map[string]bool)
	add := func(raw string) {
		vals, err := model.ParseMultiselect(raw)
		if err != nil {
			return
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				union = append(union, v)
			}
		}
	}
	for _, e := range approved {
		add(e.Value)
	}
	if len(union) == 0 && pending != nil {
		add(pending.Value)
	}
	return union
}

// CurrentValue selects the value a consumer sees for a resolved field:
// the approved row when present, else the visible pending row.
func CurrentValue(rf model.ResolvedField) (string, bool) {
	if rf.Approved != nil {
		return rf.Approved.Value, true
	}
	if rf.Pending != nil {
		return rf.Pending.Value, true
	}
	return "", false
}
