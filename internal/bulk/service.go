// Package bulk implements the two-phase multi-asset mutation engine:
// a validating preview that issues a single-use time-boxed token, and an
// execute phase that re-validates everything and applies the operation per
// asset with partial-failure semantics.
package bulk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/ledger"
	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/policy"
	"github.com/brandvault/metaledger/internal/resolver"
	"github.com/brandvault/metaledger/internal/store"
)

// Service coordinates bulk preview and execute over the single-asset write path.
type Service struct {
	store      store.Store
	fields     *model.FieldRegistry
	ledger     *ledger.Service
	caps       policy.CapabilityChecker
	ttl        time.Duration
	maxWorkers int

	now func() time.Time
}

func NewService(st store.Store, fields *model.FieldRegistry, led *ledger.Service,
	caps policy.CapabilityChecker, ttl time.Duration, maxWorkers int) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Service{
		store:      st,
		fields:     fields,
		ledger:     led,
		caps:       caps,
		ttl:        ttl,
		maxWorkers: maxWorkers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Preview validates an operation against every asset in the batch without
// writing, and returns a diff plus a token that Execute requires. The token
// is bound server-side to the exact parameters and the issuing actor.
func (s *Service) Preview(ctx context.Context, assetIDs []string, op model.BulkOp, fieldID, payload string, actor model.Actor) (*model.BulkDiff, string, error) {
	field, err := s.validateParams(assetIDs, op, fieldID, payload)
	if err != nil {
		return nil, "", err
	}

	diff := &model.BulkDiff{Op: op, FieldID: fieldID}
	for _, assetID := range assetIDs {
		current, err := s.currentValue(ctx, assetID, field)
		if err != nil {
			return nil, "", err
		}
		canEdit, err := s.caps.CanEdit(ctx, actor, field.ID)
		if err != nil {
			return nil, "", eris.Wrap(err, "bulk: edit capability check")
		}
		proposed, err := applyOp(field, current, op, payload)
		if err != nil {
			return nil, "", err
		}
		diff.Assets = append(diff.Assets, model.BulkAssetDiff{
			AssetID:  assetID,
			Current:  current,
			Proposed: proposed,
			CanEdit:  canEdit,
		})
	}

	now := s.now()
	preview := &model.BulkPreview{
		Token:     uuid.NewString(),
		AssetIDs:  assetIDs,
		Op:        op,
		FieldID:   fieldID,
		Payload:   payload,
		ActorID:   actor.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.SavePreview(ctx, preview); err != nil {
		return nil, "", eris.Wrap(err, "bulk: save preview")
	}
	s.sweepExpired(ctx)
	return diff, preview.Token, nil
}

// Execute applies a previously previewed operation. The token is consumed on
// first use; preview-time checks are not trusted and every permission is
// re-validated. One asset's failure never blocks the rest.
func (s *Service) Execute(ctx context.Context, token string, actor model.Actor) (*model.BulkResult, error) {
	preview, err := s.store.ConsumePreview(ctx, token)
	if err != nil {
		if k := fault.KindOf(err); k == fault.KindTokenNotFound || k == fault.KindTokenExpired {
			return nil, err
		}
		return nil, eris.Wrap(err, "bulk: consume preview")
	}
	if preview.ActorID != actor.ID {
		return nil, fault.TokenNotFound("token was issued to a different actor")
	}

	field := s.fields.ByID(preview.FieldID)
	if field == nil {
		return nil, fault.NotFound("field %s", preview.FieldID)
	}

	result := &model.BulkResult{
		Total:     len(preview.AssetIDs),
		Successes: []string{},
		Failures:  []model.BulkFailure{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for _, assetID := range preview.AssetIDs {
		assetID := assetID
		g.Go(func() error {
			err := s.applyToAsset(gctx, assetID, field, preview.Op, preview.Payload, actor)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, model.BulkFailure{
					AssetID: assetID,
					Error:   err.Error(),
				})
			} else {
				result.Successes = append(result.Successes, assetID)
			}
			return nil
		})
	}
	// Workers never return errors; failures are collected per asset.
	_ = g.Wait()

	zap.L().Info("bulk: executed",
		zap.String("op", string(preview.Op)),
		zap.String("field_id", preview.FieldID),
		zap.Int("total", result.Total),
		zap.Int("successes", len(result.Successes)),
		zap.Int("failures", len(result.Failures)),
		zap.String("actor", actor.ID))
	return result, nil
}

func (s *Service) applyToAsset(ctx context.Context, assetID string, field *model.FieldDefinition, op model.BulkOp, payload string, actor model.Actor) error {
	current, err := s.currentValue(ctx, assetID, field)
	if err != nil {
		return err
	}
	value, err := applyOp(field, current, op, payload)
	if err != nil {
		return err
	}
	_, err = s.ledger.WriteValue(ctx, actor, ledger.WriteRequest{
		AssetID:  assetID,
		FieldID:  field.ID,
		Value:    value,
		Source:   model.SourceUser,
		Producer: model.ProducerUser,
	})
	return err
}

func (s *Service) validateParams(assetIDs []string, op model.BulkOp, fieldID, payload string) (*model.FieldDefinition, error) {
	if len(assetIDs) == 0 {
		return nil, fault.InvalidValue(nil, "empty asset batch")
	}
	if _, ok := model.ParseBulkOp(string(op)); !ok {
		return nil, fault.InvalidValue(nil, "unknown bulk operation %q", op)
	}
	field := s.fields.ByID(fieldID)
	if field == nil {
		return nil, fault.NotFound("field %s", fieldID)
	}
	if !field.Editable || field.Mode.Authoritative() {
		return nil, fault.ReadOnlyField("field %s is not editable", field.Key)
	}

	switch op {
	case model.BulkAdd:
		if field.Type != model.TypeMultiselect {
			return nil, fault.InvalidValue(nil, "add applies only to multiselect fields")
		}
		if _, err := model.ValidateValue(field.Type, payload); err != nil {
			return nil, fault.InvalidValue(err, "field %s", field.Key)
		}
	case model.BulkReplace:
		if _, err := model.ValidateValue(field.Type, payload); err != nil {
			return nil, fault.InvalidValue(err, "field %s", field.Key)
		}
	case model.BulkClear:
		if field.Type != model.TypeMultiselect && field.Type != model.TypeText {
			return nil, fault.InvalidValue(nil, "clear applies only to text and multiselect fields")
		}
	}
	return field, nil
}

// applyOp computes the value a bulk operation writes given the asset's
// current visible value.
func applyOp(field *model.FieldDefinition, current string, op model.BulkOp, payload string) (string, error) {
	switch op {
	case model.BulkReplace:
		return model.ValidateValue(field.Type, payload)
	case model.BulkClear:
		if field.Type == model.TypeMultiselect {
			return "[]", nil
		}
		return "", nil
	case model.BulkAdd:
		existing, err := model.ParseMultiselect(current)
		if err != nil {
			// Current value predates validation; start clean.
			existing = nil
		}
		added, err := model.ParseMultiselect(payload)
		if err != nil {
			return "", fault.InvalidValue(err, "field %s", field.Key)
		}
		return model.EncodeMultiselect(append(existing, added...)), nil
	default:
		return "", fault.InvalidValue(nil, "unknown bulk operation %q", op)
	}
}

// currentValue resolves what the field shows right now, suppression off.
func (s *Service) currentValue(ctx context.Context, assetID string, field *model.FieldDefinition) (string, error) {
	entries, err := s.store.ListFieldEntries(ctx, assetID, field.ID)
	if err != nil {
		return "", eris.Wrapf(err, "bulk: list entries for field %s", field.Key)
	}
	state := resolver.Resolve(entries, s.fields, nil, resolver.Viewer{CanApprove: true, Unsuppressed: true})
	if rf, ok := state[field.ID]; ok {
		if v, ok := resolver.CurrentValue(rf); ok {
			return v, nil
		}
	}
	return "", nil
}

// sweepExpired opportunistically clears expired preview records. Best-effort:
// a failed sweep never fails the preview that triggered it.
func (s *Service) sweepExpired(ctx context.Context) {
	n, err := s.store.DeleteExpiredPreviews(ctx)
	if err != nil {
		zap.L().Warn("bulk: expired preview sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Debug("bulk: swept expired previews", zap.Int64("count", n))
	}
}
