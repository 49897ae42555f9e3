package policy

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/brandvault/metaledger/internal/model"
)

// Gate decides at write time whether a new value entry becomes canonical
// immediately or waits for human approval.
type Gate struct {
	checker CapabilityChecker
}

// NewGate creates an approval gate over the given capability checker.
func NewGate(checker CapabilityChecker) *Gate {
	return &Gate{checker: checker}
}

// RequiresApproval reports whether a write from the given source to the given
// field must wait for approval. Automatic and system values are never gated;
// neither are fields whose population mode is authoritative. Ordinary user and
// ai writes are gated when the field requires review, unless the actor holds a
// bypass capability.
func (g *Gate) RequiresApproval(ctx context.Context, field *model.FieldDefinition, source model.Source, actor model.Actor) (bool, error) {
	if field.Mode.Authoritative() {
		return false, nil
	}

	switch source {
	case model.SourceAutomatic, model.SourceSystem, model.SourceManualOverride:
		return false, nil
	case model.SourceAI, model.SourceUser:
		// Gated below.
	case model.SourceAIRejected, model.SourceUserRejected:
		// Rejected variants never enter through the write path.
		return false, nil
	}

	if !field.RequiresReview {
		return false, nil
	}

	bypass, err := g.checker.BypassReview(ctx, actor)
	if err != nil {
		return false, eris.Wrap(err, "policy: bypass check")
	}
	return !bypass, nil
}
