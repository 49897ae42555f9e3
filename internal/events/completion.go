package events

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandvault/metaledger/internal/model"
)

// PendingCounter answers how many pending ledger rows an asset still carries.
// The store satisfies this through ListEntries; the monitor keeps only the
// count logic.
type PendingCounter interface {
	ListEntries(ctx context.Context, assetID string) ([]model.ValueEntry, error)
}

// CompletionMonitor emits one asset.complete event per completion generation:
// when the last pending row on an asset resolves, it fires once; a new pending
// row re-arms it. The pending re-check at emit time guards against duplicate
// dispatch when two approvals race.
type CompletionMonitor struct {
	store      PendingCounter
	dispatcher *Dispatcher

	mu       sync.Mutex
	complete map[string]bool
}

func NewCompletionMonitor(store PendingCounter, dispatcher *Dispatcher) *CompletionMonitor {
	return &CompletionMonitor{
		store:      store,
		dispatcher: dispatcher,
		complete:   make(map[string]bool),
	}
}

// NoteWrite records that an asset gained a pending row, re-arming completion.
func (m *CompletionMonitor) NoteWrite(assetID string) {
	m.mu.Lock()
	m.complete[assetID] = false
	m.mu.Unlock()
}

// CheckAndEmit re-reads the asset's pending state and emits asset.complete
// when nothing remains pending and this completion has not fired yet.
// Failures are logged and swallowed: completion dispatch is best-effort and
// never surfaces to the request that triggered it.
func (m *CompletionMonitor) CheckAndEmit(ctx context.Context, assetID, actor string) {
	pending, err := m.pendingCount(ctx, assetID)
	if err != nil {
		zap.L().Warn("events: completion check failed",
			zap.String("asset_id", assetID), zap.Error(err))
		return
	}
	if pending > 0 {
		m.NoteWrite(assetID)
		return
	}

	m.mu.Lock()
	already := m.complete[assetID]
	if !already {
		m.complete[assetID] = true
	}
	m.mu.Unlock()
	if already {
		return
	}

	m.dispatcher.Publish(Event{
		Type:    TypeAssetComplete,
		AssetID: assetID,
		Actor:   actor,
		At:      time.Now().UTC(),
	})
}

func (m *CompletionMonitor) pendingCount(ctx context.Context, assetID string) (int, error) {
	entries, err := m.store.ListEntries(ctx, assetID)
	if err != nil {
		return 0, eris.Wrapf(err, "events: list entries for asset %s", assetID)
	}
	n := 0
	for i := range entries {
		if entries[i].Pending() {
			n++
		}
	}
	return n, nil
}
