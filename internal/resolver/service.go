package resolver

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/policy"
	"github.com/brandvault/metaledger/internal/store"
)

// Service answers read-side questions about an asset: its resolved canonical
// state and its editability surface.
type Service struct {
	store      store.Store
	fields     *model.FieldRegistry
	suppressor *Suppressor
	caps       policy.CapabilityChecker
}

func NewService(st store.Store, fields *model.FieldRegistry, sup *Suppressor, caps policy.CapabilityChecker) *Service {
	return &Service{store: st, fields: fields, suppressor: sup, caps: caps}
}

// ResolveState computes the resolved view of every populated field on the
// asset, shaped for the given actor.
func (s *Service) ResolveState(ctx context.Context, assetID string, actor model.Actor) (model.ResolvedState, error) {
	entries, err := s.store.ListEntries(ctx, assetID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: list entries for asset %s", assetID)
	}
	viewer, err := s.viewerFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	return Resolve(entries, s.fields, s.suppressor, viewer), nil
}

// ResolveField computes the resolved view of a single field.
func (s *Service) ResolveField(ctx context.Context, assetID, fieldID string, actor model.Actor) (*model.ResolvedField, error) {
	field := s.fields.ByID(fieldID)
	if field == nil {
		return nil, eris.Errorf("resolver: unknown field %s", fieldID)
	}
	entries, err := s.store.ListFieldEntries(ctx, assetID, fieldID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: list entries for field %s", fieldID)
	}
	viewer, err := s.viewerFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	state := Resolve(entries, s.fields, s.suppressor, viewer)
	rf, ok := state[fieldID]
	if !ok {
		rf = model.ResolvedField{}
	}
	return &rf, nil
}

// EditableFields lists every registered field with the actor's edit surface:
// current visible value, pending flag, and whether the field accepts direct
// edits at all.
func (s *Service) EditableFields(ctx context.Context, assetID string, actor model.Actor) ([]model.EditableField, error) {
	state, err := s.ResolveState(ctx, assetID, actor)
	if err != nil {
		return nil, err
	}
	out := make([]model.EditableField, 0, len(s.fields.Fields))
	for i := range s.fields.Fields {
		f := &s.fields.Fields[i]
		ef := model.EditableField{
			FieldID:  f.ID,
			Key:      f.Key,
			Mode:     f.Mode,
			ReadOnly: !f.Editable || f.Mode.Authoritative(),
		}
		if rf, ok := state[f.ID]; ok {
			if v, ok := CurrentValue(rf); ok {
				ef.CurrentValue = v
			}
			ef.IsPending = rf.HasPending
		}
		if !ef.ReadOnly {
			canEdit, err := s.caps.CanEdit(ctx, actor, f.ID)
			if err != nil {
				return nil, eris.Wrapf(err, "resolver: capability check for field %s", f.ID)
			}
			ef.CanEdit = canEdit
		}
		out = append(out, ef)
	}
	return out, nil
}

func (s *Service) viewerFor(ctx context.Context, actor model.Actor) (Viewer, error) {
	// A blanket approve check shapes pending visibility. Field-level approval
	// is still enforced per operation at write time.
	canApprove, err := s.caps.CanApprove(ctx, actor, "")
	if err != nil {
		return Viewer{}, eris.Wrap(err, "resolver: capability check")
	}
	return Viewer{CanApprove: canApprove}, nil
}
