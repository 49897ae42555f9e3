package model

import "time"

// BulkOp is the operation applied by a bulk mutation.
type BulkOp string

const (
	BulkAdd     BulkOp = "add"
	BulkReplace BulkOp = "replace"
	BulkClear   BulkOp = "clear"
)

// ParseBulkOp validates a requested bulk operation type.
func ParseBulkOp(s string) (BulkOp, bool) {
	switch op := BulkOp(s); op {
	case BulkAdd, BulkReplace, BulkClear:
		return op, true
	default:
		return "", false
	}
}

// BulkPreview is the server-side record a preview token resolves to. Execute
// fails closed unless the token is present, unexpired, and issued to the same
// actor; the record is consumed on first use.
type BulkPreview struct {
	Token     string    `json:"token"`
	AssetIDs  []string  `json:"asset_ids"`
	Op        BulkOp    `json:"op"`
	FieldID   string    `json:"field_id"`
	Payload   string    `json:"payload"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BulkAssetDiff summarizes the change preview computed for one asset.
type BulkAssetDiff struct {
	AssetID  string `json:"asset_id"`
	Current  string `json:"current,omitempty"`
	Proposed string `json:"proposed,omitempty"`
	CanEdit  bool   `json:"can_edit"`
}

// BulkDiff is the preview response for a batch.
type BulkDiff struct {
	Op      BulkOp          `json:"op"`
	FieldID string          `json:"field_id"`
	Assets  []BulkAssetDiff `json:"assets"`
}

// BulkFailure attributes one asset's execution error.
type BulkFailure struct {
	AssetID string `json:"asset_id"`
	Error   string `json:"error"`
}

// BulkResult reports a partially-successful batch execution. The batch is not
// atomic: len(Successes)+len(Failures) always equals Total.
type BulkResult struct {
	Total     int           `json:"total"`
	Successes []string      `json:"successes"`
	Failures  []BulkFailure `json:"failures"`
}
