// Package ledger implements the append-only value write path: direct writes,
// approval, rejection, and edit-and-approve. Every committed transition writes
// its paired history row in the same transaction.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandvault/metaledger/internal/events"
	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/policy"
	"github.com/brandvault/metaledger/internal/resolver"
	"github.com/brandvault/metaledger/internal/store"
)

// WriteRequest carries one value write into the ledger.
type WriteRequest struct {
	AssetID    string
	FieldID    string
	Value      string
	Source     model.Source
	Producer   model.Producer
	Confidence *float64
	// OverrideIntent marks a deliberate edit of an overridden hybrid field.
	OverrideIntent bool
}

// WriteResult reports the appended entry and whether it awaits approval.
type WriteResult struct {
	Entry   *model.ValueEntry
	Pending bool
}

// Service is the ledger write service.
type Service struct {
	store   store.Store
	fields  *model.FieldRegistry
	gate    *policy.Gate
	caps    policy.CapabilityChecker
	bus     *events.Dispatcher
	monitor *events.CompletionMonitor

	now func() time.Time
}

func NewService(st store.Store, fields *model.FieldRegistry, gate *policy.Gate,
	caps policy.CapabilityChecker, bus *events.Dispatcher, monitor *events.CompletionMonitor) *Service {
	return &Service{
		store:   st,
		fields:  fields,
		gate:    gate,
		caps:    caps,
		bus:     bus,
		monitor: monitor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WriteValue appends a new value entry. The approval gate decides whether the
// entry is stamped approved immediately or left pending. Machine writes onto
// an overridden hybrid field are recorded but never auto-approved, so the
// override keeps winning resolution.
func (s *Service) WriteValue(ctx context.Context, actor model.Actor, req WriteRequest) (*WriteResult, error) {
	field := s.fields.ByID(req.FieldID)
	if field == nil {
		return nil, fault.NotFound("field %s", req.FieldID)
	}
	if req.Source.Rejected() {
		return nil, fault.InvalidValue(nil, "source %s is terminal", req.Source)
	}

	if req.Source == model.SourceUser || req.Source == model.SourceManualOverride {
		if !field.Editable || field.Mode.Authoritative() {
			return nil, fault.ReadOnlyField("field %s is not editable", field.Key)
		}
		ok, err := s.caps.CanEdit(ctx, actor, field.ID)
		if err != nil {
			return nil, eris.Wrap(err, "ledger: edit capability check")
		}
		if !ok {
			return nil, fault.PermissionDenied("actor %s may not edit field %s", actor.ID, field.Key)
		}
	}

	value, err := model.ValidateValue(field.Type, req.Value)
	if err != nil {
		return nil, fault.InvalidValue(err, "field %s", field.Key)
	}

	current, err := s.currentApproved(ctx, req.AssetID, field)
	if err != nil {
		return nil, err
	}

	source := req.Source
	confidence := req.Confidence
	overridden := current != nil && current.Source == model.SourceManualOverride
	if field.Mode == model.ModeHybrid && overridden && source == model.SourceUser {
		if !req.OverrideIntent {
			return nil, fault.RequiresOverrideIntent("field %s is overridden", field.Key)
		}
		source = model.SourceManualOverride
		one := 1.0
		confidence = &one
	}

	pending := false
	var approvedAt *time.Time
	approvedBy := ""
	switch {
	case field.Mode == model.ModeHybrid && overridden && source != model.SourceManualOverride:
		// Held: the pipeline keeps writing, the override keeps displaying.
	default:
		requires, err := s.gate.RequiresApproval(ctx, field, source, actor)
		if err != nil {
			return nil, eris.Wrap(err, "ledger: approval gate")
		}
		if requires {
			pending = true
		} else {
			now := s.now()
			approvedAt = &now
			approvedBy = actor.ID
		}
	}

	entry := &model.ValueEntry{
		AssetID:    req.AssetID,
		FieldID:    field.ID,
		Value:      value,
		Source:     source,
		Producer:   req.Producer,
		Confidence: confidence,
		ApprovedAt: approvedAt,
		ApprovedBy: approvedBy,
		CreatedAt:  s.now(),
	}
	hist := s.historyFor(entry, current, actor.ID)
	if err := s.store.AppendEntry(ctx, entry, hist); err != nil {
		return nil, eris.Wrapf(err, "ledger: append entry for field %s", field.Key)
	}

	zap.L().Info("ledger: value written",
		zap.String("asset_id", req.AssetID),
		zap.String("field", field.Key),
		zap.String("source", string(source)),
		zap.Bool("pending", pending))

	if pending {
		s.monitor.NoteWrite(req.AssetID)
	} else if approvedAt != nil {
		s.publishApproved(ctx, entry, actor)
	}
	return &WriteResult{Entry: entry, Pending: pending}, nil
}

// Approve stamps a pending entry approved. Fails AlreadyResolved when the row
// is already approved or rejected, including when a concurrent approval won.
func (s *Service) Approve(ctx context.Context, entryID int64, actor model.Actor) error {
	entry, err := s.entryForReview(ctx, entryID, actor)
	if err != nil {
		return err
	}

	field := s.fields.ByID(entry.FieldID)
	current, err := s.currentApproved(ctx, entry.AssetID, field)
	if err != nil {
		return err
	}

	now := s.now()
	hist := &model.HistoryEntry{
		EntryID:  entry.ID,
		AssetID:  entry.AssetID,
		FieldID:  entry.FieldID,
		OldValue: oldValueOf(current),
		NewValue: &entry.Value,
		Actor:    actor.ID,
	}
	if err := s.store.StampApproval(ctx, entry.ID, actor.ID, now, hist); err != nil {
		if fault.Is(err, fault.KindAlreadyResolved) {
			return err
		}
		return eris.Wrapf(err, "ledger: approve entry %d", entryID)
	}

	entry.ApprovedAt = &now
	entry.ApprovedBy = actor.ID
	s.publishApproved(ctx, entry, actor)
	return nil
}

// RejectEntry flips a pending entry's source to its rejected variant. The row
// stays in the ledger for audit; the history row records a nil new value.
func (s *Service) RejectEntry(ctx context.Context, entryID int64, actor model.Actor) error {
	entry, err := s.entryForReview(ctx, entryID, actor)
	if err != nil {
		return err
	}
	rejected, ok := entry.Source.RejectedVariant()
	if !ok {
		return fault.AlreadyResolved("entry %d source %s cannot be rejected", entryID, entry.Source)
	}

	hist := &model.HistoryEntry{
		EntryID:  entry.ID,
		AssetID:  entry.AssetID,
		FieldID:  entry.FieldID,
		OldValue: &entry.Value,
		Actor:    actor.ID,
	}
	if err := s.store.MarkRejected(ctx, entry.ID, rejected, hist); err != nil {
		if fault.Is(err, fault.KindAlreadyResolved) {
			return err
		}
		return eris.Wrapf(err, "ledger: reject entry %d", entryID)
	}

	s.bus.Publish(events.Event{
		Type:    events.TypeValueRejected,
		AssetID: entry.AssetID,
		FieldID: entry.FieldID,
		EntryID: entry.ID,
		Actor:   actor.ID,
		At:      s.now(),
	})
	// Rejecting the last pending row can complete the asset.
	s.monitor.CheckAndEmit(ctx, entry.AssetID, actor.ID)
	return nil
}

// EditAndApprove rejects a pending entry and appends a user-authored,
// confidence-1.0 approved replacement in one transaction.
func (s *Service) EditAndApprove(ctx context.Context, entryID int64, newValue string, actor model.Actor) (*model.ValueEntry, error) {
	entry, err := s.entryForReview(ctx, entryID, actor)
	if err != nil {
		return nil, err
	}
	rejected, ok := entry.Source.RejectedVariant()
	if !ok {
		return nil, fault.AlreadyResolved("entry %d source %s cannot be rejected", entryID, entry.Source)
	}

	field := s.fields.ByID(entry.FieldID)
	if field == nil {
		return nil, fault.NotFound("field %s", entry.FieldID)
	}
	value, err := model.ValidateValue(field.Type, newValue)
	if err != nil {
		return nil, fault.InvalidValue(err, "field %s", field.Key)
	}

	now := s.now()
	one := 1.0
	replacement := &model.ValueEntry{
		AssetID:    entry.AssetID,
		FieldID:    entry.FieldID,
		Value:      value,
		Source:     model.SourceUser,
		Producer:   model.ProducerUser,
		Confidence: &one,
		ApprovedAt: &now,
		ApprovedBy: actor.ID,
		CreatedAt:  now,
	}
	hists := []*model.HistoryEntry{
		{EntryID: entry.ID, AssetID: entry.AssetID, FieldID: entry.FieldID,
			OldValue: &entry.Value, Actor: actor.ID},
		{AssetID: entry.AssetID, FieldID: entry.FieldID,
			OldValue: &entry.Value, NewValue: &value, Actor: actor.ID},
	}
	if err := s.store.RejectAndAppend(ctx, entry.ID, rejected, replacement, hists); err != nil {
		if fault.Is(err, fault.KindAlreadyResolved) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "ledger: edit and approve entry %d", entryID)
	}

	s.publishApproved(ctx, replacement, actor)
	return replacement, nil
}

// History returns the audit trail for an asset, newest first.
func (s *Service) History(ctx context.Context, assetID string) ([]model.HistoryEntry, error) {
	hist, err := s.store.ListHistory(ctx, assetID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: list history for asset %s", assetID)
	}
	return hist, nil
}

// entryForReview loads an entry and checks the actor may approve or reject it.
func (s *Service) entryForReview(ctx context.Context, entryID int64, actor model.Actor) (*model.ValueEntry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get entry %d", entryID)
	}
	if entry == nil {
		return nil, fault.NotFound("entry %d", entryID)
	}
	ok, err := s.caps.CanApprove(ctx, actor, entry.FieldID)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: approve capability check")
	}
	if !ok {
		return nil, fault.PermissionDenied("actor %s may not review field %s", actor.ID, entry.FieldID)
	}
	if entry.Approved() || entry.Source.Rejected() {
		return nil, fault.AlreadyResolved("entry %d is already resolved", entryID)
	}
	return entry, nil
}

// currentApproved resolves the field's present approved row, suppression off.
func (s *Service) currentApproved(ctx context.Context, assetID string, field *model.FieldDefinition) (*model.ValueEntry, error) {
	if field == nil {
		return nil, nil
	}
	entries, err := s.store.ListFieldEntries(ctx, assetID, field.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: list entries for field %s", field.Key)
	}
	state := resolver.Resolve(entries, s.fields, nil, resolver.Viewer{CanApprove: true, Unsuppressed: true})
	if rf, ok := state[field.ID]; ok {
		return rf.Approved, nil
	}
	return nil, nil
}

func (s *Service) historyFor(entry *model.ValueEntry, current *model.ValueEntry, actorID string) *model.HistoryEntry {
	return &model.HistoryEntry{
		AssetID:  entry.AssetID,
		FieldID:  entry.FieldID,
		OldValue: oldValueOf(current),
		NewValue: &entry.Value,
		Actor:    actorID,
	}
}

func (s *Service) publishApproved(ctx context.Context, entry *model.ValueEntry, actor model.Actor) {
	s.bus.Publish(events.Event{
		Type:    events.TypeValueApproved,
		AssetID: entry.AssetID,
		FieldID: entry.FieldID,
		EntryID: entry.ID,
		Actor:   actor.ID,
		At:      s.now(),
	})
	s.monitor.CheckAndEmit(ctx, entry.AssetID, actor.ID)
}

func oldValueOf(e *model.ValueEntry) *string {
	if e == nil {
		return nil
	}
	return &e.Value
}
