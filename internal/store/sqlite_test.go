package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func floatPtr(f float64) *float64 { return &f }

func appendTestEntry(t *testing.T, st *SQLiteStore, assetID, fieldID, value string, src model.Source) *model.ValueEntry {
	t.Helper()
	e := &model.ValueEntry{
		AssetID: assetID, FieldID: fieldID, Value: value,
		Source: src, Producer: model.ProducerUser,
	}
	hist := &model.HistoryEntry{AssetID: assetID, FieldID: fieldID, NewValue: &value, Actor: "tester"}
	require.NoError(t, st.AppendEntry(context.Background(), e, hist))
	return e
}

// --- Ledger ---

func TestSQLite_AppendEntry_WritesEntryAndHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := &model.ValueEntry{
		AssetID: "a-1", FieldID: "f-1", Value: "4",
		Source: model.SourceUser, Producer: model.ProducerUser,
	}
	newVal := "4"
	hist := &model.HistoryEntry{AssetID: "a-1", FieldID: "f-1", NewValue: &newVal, Actor: "u-1"}
	require.NoError(t, st.AppendEntry(ctx, e, hist))

	assert.NotZero(t, e.ID)
	assert.Equal(t, e.ID, hist.EntryID)

	got, err := st.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "4", got.Value)
	assert.Equal(t, model.SourceUser, got.Source)
	assert.Nil(t, got.ApprovedAt)

	trail, err := st.ListHistory(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, e.ID, trail[0].EntryID)
	require.NotNil(t, trail[0].NewValue)
	assert.Equal(t, "4", *trail[0].NewValue)
}

func TestSQLite_GetEntry_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetEntry(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_StampApproval(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	e := appendTestEntry(t, st, "a-1", "f-1", "4", model.SourceUser)

	at := time.Now().UTC().Truncate(time.Second)
	hist := &model.HistoryEntry{AssetID: "a-1", FieldID: "f-1", Actor: "approver"}
	require.NoError(t, st.StampApproval(ctx, e.ID, "approver", at, hist))

	got, err := st.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, "approver", got.ApprovedBy)
	// Original value untouched.
	assert.Equal(t, "4", got.Value)
}

func TestSQLite_StampApproval_AlreadyApproved(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	e := appendTestEntry(t, st, "a-1", "f-1", "4", model.SourceUser)

	at := time.Now().UTC()
	require.NoError(t, st.StampApproval(ctx, e.ID, "first", at,
		&model.HistoryEntry{AssetID: "a-1", FieldID: "f-1", Actor: "first"}))

	err := st.StampApproval(ctx, e.ID, "second", at,
		&model.HistoryEntry{AssetID: "a-1", FieldID: "f-1", Actor: "second"})
	assert.Equal(t, fault.KindAlreadyResolved, fault.KindOf(err))
}

func TestSQLite_MarkRejected_PreservesRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	e := appendTestEntry(t, st, "a-1", "f-1", "4", model.SourceUser)

	hist := &model.HistoryEntry{AssetID: "a-1", FieldID: "f-1", Actor: "approver"}
	require.NoError(t, st.MarkRejected(ctx, e.ID, model.SourceUserRejected, hist))

	got, err := st.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SourceUserRejected, got.Source)
	// Value survives for audit.
	assert.Equal(t, "4", got.Value)

	// Rejecting again is terminal.
	err = st.MarkRejected(ctx, e.ID, model.SourceUserRejected,
		&model.HistoryEntry{AssetID: "a-1", FieldID: "f-1", Actor: "approver"})
	assert.Equal(t, fault.KindAlreadyResolved, fault.KindOf(err))
}

func TestSQLite_RejectAndAppend_Atomic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	orig := appendTestEntry(t, st, "a-1", "f-1", "draft", model.SourceAI)

	now := time.Now().UTC()
	replacement := &model.ValueEntry{
		AssetID: "a-1", FieldID: "f-1", Value: "final",
		Source: model.SourceUser, Producer: model.ProducerUser,
		Confidence: floatPtr(1.0), ApprovedAt: &now, ApprovedBy: "editor",
	}
	oldVal, newVal := "draft", "final"
	hists := []*model.HistoryEntry{
		{EntryID: orig.ID, AssetID: "a-1", FieldID: "f-1", OldValue: &oldVal, Actor: "editor"},
		{AssetID: "a-1", FieldID: "f-1", OldValue: &oldVal, NewValue: &newVal, Actor: "editor"},
	}
	require.NoError(t, st.RejectAndAppend(ctx, orig.ID, model.SourceAIRejected, replacement, hists))

	rejected, err := st.GetEntry(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAIRejected, rejected.Source)

	added, err := st.GetEntry(ctx, replacement.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", added.Value)
	require.NotNil(t, added.Confidence)
	assert.InDelta(t, 1.0, *added.Confidence, 0.001)

	entries, err := st.ListFieldEntries(ctx, "a-1", "f-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLite_ConcurrentAppends_NoRowLost(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val := fmt.Sprintf("v-%d", i)
			e := &model.ValueEntry{
				AssetID: "a-1", FieldID: "f-1", Value: val,
				Source: model.SourceUser, Producer: model.ProducerUser,
			}
			errs <- st.AppendEntry(ctx, e, &model.HistoryEntry{
				AssetID: "a-1", FieldID: "f-1", NewValue: &val, Actor: "tester",
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := st.ListEntries(ctx, "a-1")
	require.NoError(t, err)
	assert.Len(t, entries, writers)

	trail, err := st.ListHistory(ctx, "a-1")
	require.NoError(t, err)
	assert.Len(t, trail, writers)
}

// --- Candidates ---

func TestSQLite_CandidateLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := &model.Candidate{
		ID: uuid.New().String(), AssetID: "b-1", FieldID: "f-tags",
		Value: "Sunset", Canonical: "sunset", Confidence: floatPtr(0.92),
		Producer: model.ProducerAI,
	}
	require.NoError(t, st.InsertCandidate(ctx, c))

	open, err := st.ListOpenCandidates(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "Sunset", open[0].Value)

	require.NoError(t, st.ResolveCandidate(ctx, c.ID, time.Now().UTC()))

	open, err = st.ListOpenCandidates(ctx, "b-1")
	require.NoError(t, err)
	assert.Empty(t, open)

	err = st.ResolveCandidate(ctx, c.ID, time.Now().UTC())
	assert.Equal(t, fault.KindAlreadyResolved, fault.KindOf(err))
}

func TestSQLite_DismissCandidates_PropagatesByCanonical(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, v := range []string{"Sunset", "sunset", " SUNSET "} {
		require.NoError(t, st.InsertCandidate(ctx, &model.Candidate{
			ID: uuid.New().String(), AssetID: "b-1", FieldID: "f-tags",
			Value: v, Canonical: "sunset", Producer: model.ProducerAI,
		}))
	}
	require.NoError(t, st.InsertCandidate(ctx, &model.Candidate{
		ID: uuid.New().String(), AssetID: "b-1", FieldID: "f-tags",
		Value: "beach", Canonical: "beach", Producer: model.ProducerAI,
	}))

	n, err := st.DismissCandidates(ctx, "b-1", "f-tags", "sunset", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	open, err := st.ListOpenCandidates(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "beach", open[0].Value)

	dismissed, err := st.HasDismissedCanonical(ctx, "b-1", "f-tags", "sunset")
	require.NoError(t, err)
	assert.True(t, dismissed)

	dismissed, err = st.HasDismissedCanonical(ctx, "b-1", "f-tags", "beach")
	require.NoError(t, err)
	assert.False(t, dismissed)
}

// --- Bulk previews ---

func TestSQLite_PreviewTokenRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := &model.BulkPreview{
		Token:     uuid.New().String(),
		AssetIDs:  []string{"a-1", "a-2"},
		Op:        model.BulkAdd,
		FieldID:   "f-tags",
		Payload:   `["archive"]`,
		ActorID:   "u-1",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}
	require.NoError(t, st.SavePreview(ctx, p))

	got, err := st.ConsumePreview(ctx, p.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "a-2"}, got.AssetIDs)
	assert.Equal(t, model.BulkAdd, got.Op)
	assert.Equal(t, "u-1", got.ActorID)

	// Single-use: second consume fails.
	_, err = st.ConsumePreview(ctx, p.Token)
	assert.Equal(t, fault.KindTokenNotFound, fault.KindOf(err))
}

func TestSQLite_PreviewToken_Expired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := &model.BulkPreview{
		Token:     uuid.New().String(),
		AssetIDs:  []string{"a-1"},
		Op:        model.BulkClear,
		FieldID:   "f-tags",
		ActorID:   "u-1",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		ExpiresAt: time.Now().UTC().Add(-50 * time.Minute),
	}
	require.NoError(t, st.SavePreview(ctx, p))

	_, err := st.ConsumePreview(ctx, p.Token)
	assert.Equal(t, fault.KindTokenExpired, fault.KindOf(err))
}

func TestSQLite_DeleteExpiredPreviews(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	expired := &model.BulkPreview{
		Token: uuid.New().String(), AssetIDs: []string{"a-1"}, Op: model.BulkAdd,
		FieldID: "f-tags", ActorID: "u-1",
		CreatedAt: time.Now().UTC().Add(-time.Hour), ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	live := &model.BulkPreview{
		Token: uuid.New().String(), AssetIDs: []string{"a-2"}, Op: model.BulkAdd,
		FieldID: "f-tags", ActorID: "u-1",
		CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, st.SavePreview(ctx, expired))
	require.NoError(t, st.SavePreview(ctx, live))

	n, err := st.DeleteExpiredPreviews(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.ConsumePreview(ctx, live.Token)
	assert.NoError(t, err)
}
