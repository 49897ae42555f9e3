package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandvault/metaledger/internal/events"
	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/policy"
	"github.com/brandvault/metaledger/internal/store"
)

var testFields = model.NewFieldRegistry([]model.FieldDefinition{
	{ID: "f-title", Key: "title", Type: model.TypeText, Mode: model.ModeManual, Editable: true, RequiresReview: true},
	{ID: "f-rating", Key: "rating", Type: model.TypeNumber, Mode: model.ModeManual, Editable: true},
	{ID: "f-size", Key: "file_size", Type: model.TypeNumber, Mode: model.ModeAutomatic},
	{ID: "f-scene", Key: "scene_classification", Type: model.TypeText, Mode: model.ModeHybrid, Editable: true},
	{ID: "f-score", Key: "quality_score", Type: model.TypeNumber, Mode: model.ModeAI, Editable: true, RequiresReview: true},
})

type fixture struct {
	svc   *Service
	store store.Store
	bus   *events.Dispatcher
}

func newFixture(t *testing.T, checker policy.CapabilityChecker) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	bus := events.NewDispatcher(64, 0)
	go bus.Run(context.Background())
	t.Cleanup(bus.Close)
	monitor := events.NewCompletionMonitor(st, bus)

	svc := NewService(st, testFields, policy.NewGate(checker), checker, bus, monitor)
	return &fixture{svc: svc, store: st, bus: bus}
}

var (
	editor   = model.Actor{ID: "editor-1"}
	approver = model.Actor{ID: "approver-1"}
)

func TestWriteValue_UserWriteOnReviewFieldIsPending(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	res, err := f.svc.WriteValue(context.Background(), editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-title", Value: "Sunset over pier",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.Nil(t, res.Entry.ApprovedAt)
	assert.NotZero(t, res.Entry.ID)

	// The pending row is stored, with a paired history row.
	entries, err := f.store.ListFieldEntries(context.Background(), "asset-1", "f-title")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	hist, err := f.store.ListHistory(context.Background(), "asset-1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, entries[0].ID, hist[0].EntryID)
	assert.Nil(t, hist[0].OldValue)
	require.NotNil(t, hist[0].NewValue)
	assert.Equal(t, "Sunset over pier", *hist[0].NewValue)
}

func TestWriteValue_NonReviewFieldApprovesImmediately(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	res, err := f.svc.WriteValue(context.Background(), editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-rating", Value: "4",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	require.NoError(t, err)
	assert.False(t, res.Pending)
	require.NotNil(t, res.Entry.ApprovedAt)
	assert.Equal(t, editor.ID, res.Entry.ApprovedBy)
}

func TestWriteValue_AutomaticSourceNeverGated(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	res, err := f.svc.WriteValue(context.Background(), model.Actor{ID: "pipeline"}, WriteRequest{
		AssetID: "asset-1", FieldID: "f-size", Value: "1048576",
		Source: model.SourceAutomatic, Producer: model.ProducerSystem,
	})
	require.NoError(t, err)
	assert.False(t, res.Pending)
	require.NotNil(t, res.Entry.ApprovedAt)
}

func TestWriteValue_Faults(t *testing.T) {
	denyEdit := &policy.StaticChecker{Editors: map[string]bool{}}
	tests := []struct {
		name    string
		checker policy.CapabilityChecker
		req     WriteRequest
		kind    fault.Kind
	}{
		{
			name:    "unknown field",
			checker: policy.AllowAll(),
			req: WriteRequest{AssetID: "a", FieldID: "f-nope", Value: "x",
				Source: model.SourceUser, Producer: model.ProducerUser},
			kind: fault.KindNotFound,
		},
		{
			name:    "automatic field rejects user edits",
			checker: policy.AllowAll(),
			req: WriteRequest{AssetID: "a", FieldID: "f-size", Value: "9",
				Source: model.SourceUser, Producer: model.ProducerUser},
			kind: fault.KindReadOnlyField,
		},
		{
			name:    "invalid number",
			checker: policy.AllowAll(),
			req: WriteRequest{AssetID: "a", FieldID: "f-rating", Value: "many",
				Source: model.SourceUser, Producer: model.ProducerUser},
			kind: fault.KindInvalidValue,
		},
		{
			name:    "no edit capability",
			checker: denyEdit,
			req: WriteRequest{AssetID: "a", FieldID: "f-title", Value: "x",
				Source: model.SourceUser, Producer: model.ProducerUser},
			kind: fault.KindPermissionDenied,
		},
		{
			name:    "rejected source refused",
			checker: policy.AllowAll(),
			req: WriteRequest{AssetID: "a", FieldID: "f-title", Value: "x",
				Source: model.SourceUserRejected, Producer: model.ProducerUser},
			kind: fault.KindInvalidValue,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.checker)
			_, err := f.svc.WriteValue(context.Background(), editor, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.kind, fault.KindOf(err))
		})
	}
}

func TestApprove_StampsAndRecordsHistory(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	ctx := context.Background()
	res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-title", Value: "Draft title",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	require.NoError(t, err)
	require.True(t, res.Pending)

	require.NoError(t, f.svc.Approve(ctx, res.Entry.ID, approver))

	got, err := f.store.GetEntry(ctx, res.Entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, approver.ID, got.ApprovedBy)
	assert.Equal(t, "Draft title", got.Value)

	hist, err := f.store.ListHistory(ctx, "asset-1")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestApprove_Terminal(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	ctx := context.Background()
	res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-title", Value: "Draft",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Approve(ctx, res.Entry.ID, approver))
	err = f.svc.Approve(ctx, res.Entry.ID, approver)
	assert.Equal(t, fault.KindAlreadyResolved, fault.KindOf(err))

	err = f.svc.RejectEntry(ctx, res.Entry.ID, approver)
	assert.Equal(t, fault.KindAlreadyResolved, fault.KindOf(err))
}

func TestApprove_UnknownEntry(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	err := f.svc.Approve(context.Background(), 999, approver)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestApprove_RequiresCapability(t *testing.T) {
	checker := &policy.StaticChecker{Approvers: map[string]bool{}}
	f := newFixture(t, checker)
	ctx := context.Background()
	// StaticChecker with nil Editors allows edits.
	checker.Editors = nil
	res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-title", Value: "Draft",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	require.NoError(t, err)

	err = f.svc.Approve(ctx, res.Entry.ID, model.Actor{ID: "nobody"})
	assert.Equal(t, fault.KindPermissionDenied, fault.KindOf(err))
}

func TestRejectEntry_FlipsSourceAndKeepsRow(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	ctx := context.Background()
	res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-title", Value: "Typo titel",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.RejectEntry(ctx, res.Entry.ID, approver))

	got, err := f.store.GetEntry(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUserRejected, got.Source)
	assert.Equal(t, "Typo titel", got.Value)

	hist, err := f.store.ListHistory(ctx, "asset-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	// Rejection history carries a nil new value.
	var rejection *model.HistoryEntry
	for i := range hist {
		if hist[i].NewValue == nil {
			rejection = &hist[i]
		}
	}
	require.NotNil(t, rejection)
	require.NotNil(t, rejection.OldValue)
	assert.Equal(t, "Typo titel", *rejection.OldValue)
}

func TestEditAndApprove_ReplacesPendingRow(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	ctx := context.Background()
	res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-title", Value: "Sunst over pier",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	require.NoError(t, err)

	replacement, err := f.svc.EditAndApprove(ctx, res.Entry.ID, "Sunset over pier", approver)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUser, replacement.Source)
	require.NotNil(t, replacement.Confidence)
	assert.Equal(t, 1.0, *replacement.Confidence)
	require.NotNil(t, replacement.ApprovedAt)

	original, err := f.store.GetEntry(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUserRejected, original.Source)

	entries, err := f.store.ListFieldEntries(ctx, "asset-1", "f-title")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEditAndApprove_ValidatesNewValue(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	ctx := context.Background()
	res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-score", Value: "0.72",
		Source: model.SourceAI, Producer: model.ProducerAI,
	})
	require.NoError(t, err)
	require.True(t, res.Pending)

	_, err = f.svc.EditAndApprove(ctx, res.Entry.ID, "not a number", approver)
	assert.Equal(t, fault.KindInvalidValue, fault.KindOf(err))
}

func TestWriteValue_OverriddenHybridField(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	ctx := context.Background()

	// Pipeline populates, then a manual override freezes the value.
	_, err := f.svc.WriteValue(ctx, model.Actor{ID: "pipeline"}, WriteRequest{
		AssetID: "asset-1", FieldID: "f-scene", Value: "outdoor",
		Source: model.SourceAutomatic, Producer: model.ProducerSystem,
	})
	require.NoError(t, err)
	_, err = f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-scene", Value: "indoor",
		Source: model.SourceManualOverride, Producer: model.ProducerUser,
	})
	require.NoError(t, err)

	// User edit without intent is refused.
	_, err = f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-scene", Value: "studio",
		Source: model.SourceUser, Producer: model.ProducerUser,
	})
	assert.Equal(t, fault.KindRequiresOverrideIntent, fault.KindOf(err))

	// With intent the edit lands as a fresh override.
	res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
		AssetID: "asset-1", FieldID: "f-scene", Value: "studio",
		Source: model.SourceUser, Producer: model.ProducerUser, OverrideIntent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceManualOverride, res.Entry.Source)
	require.NotNil(t, res.Entry.Confidence)
	assert.Equal(t, 1.0, *res.Entry.Confidence)

	// Pipeline writes keep landing but stay unapproved: the override displays.
	held, err := f.svc.WriteValue(ctx, model.Actor{ID: "pipeline"}, WriteRequest{
		AssetID: "asset-1", FieldID: "f-scene", Value: "beach",
		Source: model.SourceAutomatic, Producer: model.ProducerSystem,
	})
	require.NoError(t, err)
	assert.Nil(t, held.Entry.ApprovedAt)
}

func TestConcurrentApprovals_BothSucceedNoRowLost(t *testing.T) {
	f := newFixture(t, policy.AllowAll())
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 2; i++ {
		res, err := f.svc.WriteValue(ctx, editor, WriteRequest{
			AssetID: "asset-1", FieldID: "f-title", Value: "v" + time.Now().Format("150405.000"),
			Source: model.SourceUser, Producer: model.ProducerUser,
		})
		require.NoError(t, err)
		ids = append(ids, res.Entry.ID)
	}

	errs := make(chan error, len(ids))
	for _, id := range ids {
		go func(id int64) { errs <- f.svc.Approve(ctx, id, approver) }(id)
	}
	for range ids {
		require.NoError(t, <-errs)
	}

	entries, err := f.store.ListFieldEntries(ctx, "asset-1", "f-title")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotNil(t, e.ApprovedAt)
	}
}
