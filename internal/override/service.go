// Package override implements the manual-override state machine for hybrid
// fields: fields the pipeline normally populates, which a user may freeze at
// a chosen value and later revert to automatic population.
package override

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/ledger"
	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/policy"
	"github.com/brandvault/metaledger/internal/resolver"
	"github.com/brandvault/metaledger/internal/store"
)

// Service drives override, overridden edits, and revert on hybrid fields.
type Service struct {
	store  store.Store
	fields *model.FieldRegistry
	ledger *ledger.Service
	caps   policy.CapabilityChecker

	now func() time.Time
}

func NewService(st store.Store, fields *model.FieldRegistry, led *ledger.Service, caps policy.CapabilityChecker) *Service {
	return &Service{
		store:  st,
		fields: fields,
		ledger: led,
		caps:   caps,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Status reports the override state of a hybrid field.
type Status struct {
	Overridden   bool       `json:"overridden"`
	OverriddenAt *time.Time `json:"overridden_at,omitempty"`
	OverriddenBy string     `json:"overridden_by,omitempty"`
}

// Override freezes the field at its current machine value. The approved
// automatic/ai row's value is copied into a new manual_override row with
// confidence 1.0. Idempotent: overriding an already-overridden field returns
// the existing override's stamp without writing.
func (s *Service) Override(ctx context.Context, assetID, fieldID string, actor model.Actor) (*Status, error) {
	field, err := s.hybridField(ctx, fieldID, actor)
	if err != nil {
		return nil, err
	}

	approved, machine, _, err := s.fieldRows(ctx, assetID, field)
	if err != nil {
		return nil, err
	}
	if approved != nil && approved.Source == model.SourceManualOverride {
		return &Status{Overridden: true, OverriddenAt: approved.OverriddenAt, OverriddenBy: approved.OverriddenBy}, nil
	}
	if machine == nil {
		return nil, fault.NotFound("field %s has no approved machine value to override", field.Key)
	}

	now := s.now()
	one := 1.0
	entry := &model.ValueEntry{
		AssetID:      assetID,
		FieldID:      field.ID,
		Value:        machine.Value,
		Source:       model.SourceManualOverride,
		Producer:     model.ProducerUser,
		Confidence:   &one,
		ApprovedAt:   &now,
		ApprovedBy:   actor.ID,
		OverriddenAt: &now,
		OverriddenBy: actor.ID,
		CreatedAt:    now,
	}
	hist := &model.HistoryEntry{
		AssetID:  assetID,
		FieldID:  field.ID,
		OldValue: &machine.Value,
		NewValue: &entry.Value,
		Actor:    actor.ID,
	}
	if err := s.store.AppendEntry(ctx, entry, hist); err != nil {
		return nil, eris.Wrapf(err, "override: append for field %s", field.Key)
	}

	zap.L().Info("override: field frozen",
		zap.String("asset_id", assetID),
		zap.String("field", field.Key),
		zap.String("actor", actor.ID))
	return &Status{Overridden: true, OverriddenAt: &now, OverriddenBy: actor.ID}, nil
}

// Edit writes a new value onto an overridden field. Without explicit override
// intent the edit is refused rather than silently displacing the frozen value.
func (s *Service) Edit(ctx context.Context, assetID, fieldID, value string, actor model.Actor, overrideIntent bool) (*model.ValueEntry, error) {
	field, err := s.hybridField(ctx, fieldID, actor)
	if err != nil {
		return nil, err
	}
	res, err := s.ledger.WriteValue(ctx, actor, ledger.WriteRequest{
		AssetID:        assetID,
		FieldID:        field.ID,
		Value:          value,
		Source:         model.SourceUser,
		Producer:       model.ProducerUser,
		OverrideIntent: overrideIntent,
	})
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

// Revert returns the field to automatic population by appending a new
// automatic row restoring the pre-override value, confidence, and producer.
// The override row stays in history.
func (s *Service) Revert(ctx context.Context, assetID, fieldID string, actor model.Actor) (*model.ValueEntry, error) {
	field, err := s.hybridField(ctx, fieldID, actor)
	if err != nil {
		return nil, err
	}

	approved, machine, override, err := s.fieldRows(ctx, assetID, field)
	if err != nil {
		return nil, err
	}
	if override == nil || approved == nil || approved.Source != model.SourceManualOverride {
		return nil, fault.NotFound("field %s is not overridden", field.Key)
	}
	if machine == nil {
		return nil, fault.NotFound("field %s has no machine value to restore", field.Key)
	}

	now := s.now()
	entry := &model.ValueEntry{
		AssetID:    assetID,
		FieldID:    field.ID,
		Value:      machine.Value,
		Source:     model.SourceAutomatic,
		Producer:   machine.Producer,
		Confidence: machine.Confidence,
		ApprovedAt: &now,
		ApprovedBy: actor.ID,
		CreatedAt:  now,
	}
	hist := &model.HistoryEntry{
		AssetID:  assetID,
		FieldID:  field.ID,
		OldValue: &approved.Value,
		NewValue: &entry.Value,
		Actor:    actor.ID,
	}
	if err := s.store.AppendEntry(ctx, entry, hist); err != nil {
		return nil, eris.Wrapf(err, "override: revert field %s", field.Key)
	}

	zap.L().Info("override: field reverted",
		zap.String("asset_id", assetID),
		zap.String("field", field.Key),
		zap.String("actor", actor.ID))
	return entry, nil
}

func (s *Service) hybridField(ctx context.Context, fieldID string, actor model.Actor) (*model.FieldDefinition, error) {
	field := s.fields.ByID(fieldID)
	if field == nil {
		return nil, fault.NotFound("field %s", fieldID)
	}
	if field.Mode != model.ModeHybrid {
		return nil, fault.ReadOnlyField("field %s is not hybrid", field.Key)
	}
	ok, err := s.caps.CanEdit(ctx, actor, field.ID)
	if err != nil {
		return nil, eris.Wrap(err, "override: edit capability check")
	}
	if !ok {
		return nil, fault.PermissionDenied("actor %s may not override field %s", actor.ID, field.Key)
	}
	return field, nil
}

// fieldRows loads the field's ledger and picks out the current approved row,
// the latest approved machine row (automatic or ai), and the latest
// manual_override row.
func (s *Service) fieldRows(ctx context.Context, assetID string, field *model.FieldDefinition) (approved, machine, override *model.ValueEntry, err error) {
	entries, err := s.store.ListFieldEntries(ctx, assetID, field.ID)
	if err != nil {
		return nil, nil, nil, eris.Wrapf(err, "override: list entries for field %s", field.Key)
	}

	state := resolver.Resolve(entries, s.fields, nil, resolver.Viewer{CanApprove: true, Unsuppressed: true})
	if rf, ok := state[field.ID]; ok {
		approved = rf.Approved
	}

	for i := range entries {
		e := &entries[i]
		if !e.Approved() || e.Source.Rejected() {
			continue
		}
		switch e.Source {
		case model.SourceAutomatic, model.SourceAI:
			if machine == nil || e.ID > machine.ID {
				machine = e
			}
		case model.SourceManualOverride:
			if override == nil || e.ID > override.ID {
				override = e
			}
		}
	}
	return approved, machine, override, nil
}
