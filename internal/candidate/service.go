package candidate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/ledger"
	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/policy"
	"github.com/brandvault/metaledger/internal/store"
)

// Service runs the candidate review workflow over the store and the ledger
// write path.
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

// Propose records a producer proposal for review. Proposals whose canonical
// form was previously dismissed for the same (asset, field) are dropped
// silently: dismissal is permanent, including for re-derived duplicates.
func (s *Service) Propose(ctx context.Context, assetID, fieldID, value string, confidence *float64, producer model.Producer) (*model.Candidate, error) {
	field := s.fields.ByID(fieldID)
	if field == nil {
		return nil, fault.NotFound("field %s", fieldID)
	}
	normalized, err := model.ValidateValue(field.Type, value)
	if err != nil {
		return nil, fault.InvalidValue(err, "field %s", field.Key)
	}

	canonical := Canonicalize(normalized)
	dismissed, err := s.store.HasDismissedCanonical(ctx, assetID, fieldID, canonical)
	if err != nil {
		return nil, eris.Wrapf(err, "candidate: dismissal check for field %s", field.Key)
	}
	if dismissed {
		zap.L().Debug("candidate: dropping re-proposal of dismissed value",
			zap.String("asset_id", assetID),
			zap.String("field", field.Key),
			zap.String("canonical", canonical))
		return nil, nil
	}

	c := &model.Candidate{
		ID:         uuid.NewString(),
		AssetID:    assetID,
		FieldID:    fieldID,
		Value:      normalized,
		Canonical:  canonical,
		Confidence: confidence,
		Producer:   producer,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertCandidate(ctx, c); err != nil {
		return nil, eris.Wrapf(err, "candidate: insert for field %s", field.Key)
	}
	return c, nil
}

// List returns the asset's open candidates.
func (s *Service) List(ctx context.Context, assetID string) ([]model.Candidate, error) {
	open, err := s.store.ListOpenCandidates(ctx, assetID)
	if err != nil {
		return nil, eris.Wrapf(err, "candidate: list for asset %s", assetID)
	}
	return open, nil
}

// Approve materializes the candidate into the ledger, preserving its original
// producer and confidence: accepting AI output is not a user-authored edit,
// and the attribution must say so.
func (s *Service) Approve(ctx context.Context, candidateID string, actor model.Actor) (*model.ValueEntry, error) {
	c, err := s.openCandidate(ctx, candidateID, actor)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.WriteValue(ctx, actor, ledger.WriteRequest{
		AssetID:    c.AssetID,
		FieldID:    c.FieldID,
		Value:      c.Value,
		Source:     model.SourceAI,
		Producer:   c.Producer,
		Confidence: c.Confidence,
	})
	if err != nil {
		return nil, err
	}
	if err := s.markResolved(ctx, c, actor, res.Entry.ID); err != nil {
		return nil, err
	}

	// Reviewer accepted this exact value; stamp it if the gate left it pending.
	if res.Pending {
		if err := s.ledger.Approve(ctx, res.Entry.ID, actor); err != nil {
			return nil, err
		}
	}
	return res.Entry, nil
}

// EditAndApprove writes the reviewer's corrected value as a user-authored,
// confidence-1.0 row. The original candidate is marked resolved but otherwise
// untouched for audit.
func (s *Service) EditAndApprove(ctx context.Context, candidateID, newValue string, actor model.Actor) (*model.ValueEntry, error) {
	c, err := s.openCandidate(ctx, candidateID, actor)
	if err != nil {
		return nil, err
	}

	one := 1.0
	res, err := s.ledger.WriteValue(ctx, actor, ledger.WriteRequest{
		AssetID:    c.AssetID,
		FieldID:    c.FieldID,
		Value:      newValue,
		Source:     model.SourceUser,
		Producer:   model.ProducerUser,
		Confidence: &one,
	})
	if err != nil {
		return nil, err
	}
	if err := s.markResolved(ctx, c, actor, res.Entry.ID); err != nil {
		return nil, err
	}
	if res.Pending {
		if err := s.ledger.Approve(ctx, res.Entry.ID, actor); err != nil {
			return nil, err
		}
	}
	return res.Entry, nil
}

// Reject dismisses the candidate permanently and propagates the dismissal to
// every open candidate on the same field sharing its canonical form, in one
// statement.
func (s *Service) Reject(ctx context.Context, candidateID string, actor model.Actor) error {
	c, err := s.openCandidate(ctx, candidateID, actor)
	if err != nil {
		return err
	}

	n, err := s.store.DismissCandidates(ctx, c.AssetID, c.FieldID, c.Canonical, s.now())
	if err != nil {
		return eris.Wrapf(err, "candidate: dismiss %s", candidateID)
	}
	zap.L().Info("candidate: dismissed",
		zap.String("asset_id", c.AssetID),
		zap.String("field_id", c.FieldID),
		zap.String("canonical", c.Canonical),
		zap.Int64("count", n),
		zap.String("actor", actor.ID))
	return nil
}

// Defer records the interaction for telemetry and changes nothing.
func (s *Service) Defer(ctx context.Context, candidateID string, actor model.Actor) error {
	c, err := s.openCandidate(ctx, candidateID, actor)
	if err != nil {
		return err
	}
	zap.L().Info("candidate: deferred",
		zap.String("candidate_id", c.ID),
		zap.String("asset_id", c.AssetID),
		zap.String("field_id", c.FieldID),
		zap.String("actor", actor.ID))
	return nil
}

func (s *Service) openCandidate(ctx context.Context, candidateID string, actor model.Actor) (*model.Candidate, error) {
	c, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, eris.Wrapf(err, "candidate: get %s", candidateID)
	}
	if c == nil {
		return nil, fault.NotFound("candidate %s", candidateID)
	}
	ok, err := s.caps.CanApprove(ctx, actor, c.FieldID)
	if err != nil {
		return nil, eris.Wrap(err, "candidate: approve capability check")
	}
	if !ok {
		return nil, fault.PermissionDenied("actor %s may not review field %s", actor.ID, c.FieldID)
	}
	if !c.Open() {
		return nil, fault.AlreadyResolved("candidate %s is already resolved", candidateID)
	}
	return c, nil
}

func (s *Service) markResolved(ctx context.Context, c *model.Candidate, actor model.Actor, entryID int64) error {
	if err := s.store.ResolveCandidate(ctx, c.ID, s.now()); err != nil {
		if fault.Is(err, fault.KindAlreadyResolved) {
			return err
		}
		return eris.Wrapf(err, "candidate: resolve %s", c.ID)
	}
	zap.L().Info("candidate: approved",
		zap.String("candidate_id", c.ID),
		zap.String("asset_id", c.AssetID),
		zap.String("field_id", c.FieldID),
		zap.Int64("entry_id", entryID),
		zap.String("actor", actor.ID))
	return nil
}
