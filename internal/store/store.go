// Package store provides persistence for the metadata value ledger, its audit
// history, review candidates, and bulk preview tokens. Two backends exist:
// Postgres (production) and SQLite (local/dev).
package store

import (
	"context"
	"time"

	"github.com/brandvault/metaledger/internal/model"
)

// Store defines the persistence interface for the metadata governance core.
//
// The ledger is append-only: entry values are never updated in place. The only
// writes onto an existing entry are the approval stamp and the terminal
// rejected-source flip, and every committed transition writes its paired
// history row in the same transaction.
type Store interface {
	// Ledger
	AppendEntry(ctx context.Context, e *model.ValueEntry, hist *model.HistoryEntry) error
	GetEntry(ctx context.Context, id int64) (*model.ValueEntry, error)
	ListEntries(ctx context.Context, assetID string) ([]model.ValueEntry, error)
	ListFieldEntries(ctx context.Context, assetID, fieldID string) ([]model.ValueEntry, error)
	// StampApproval approves a still-unapproved entry. Returns
	// fault.AlreadyResolved when the row is already terminal, so a lost
	// concurrent race surfaces cleanly.
	StampApproval(ctx context.Context, entryID int64, actor string, at time.Time, hist *model.HistoryEntry) error
	// MarkRejected flips an unapproved entry's source to its rejected variant.
	MarkRejected(ctx context.Context, entryID int64, rejected model.Source, hist *model.HistoryEntry) error
	// RejectAndAppend atomically rejects one entry and appends a replacement
	// (edit-and-approve), with all history rows in the same transaction.
	RejectAndAppend(ctx context.Context, rejectID int64, rejected model.Source, e *model.ValueEntry, hists []*model.HistoryEntry) error

	// History
	ListHistory(ctx context.Context, assetID string) ([]model.HistoryEntry, error)

	// Candidates
	InsertCandidate(ctx context.Context, c *model.Candidate) error
	GetCandidate(ctx context.Context, id string) (*model.Candidate, error)
	ListOpenCandidates(ctx context.Context, assetID string) ([]model.Candidate, error)
	ResolveCandidate(ctx context.Context, id string, at time.Time) error
	// DismissCandidates dismisses every open candidate for the field whose
	// canonical form matches, in one statement, and returns the count.
	DismissCandidates(ctx context.Context, assetID, fieldID, canonical string, at time.Time) (int64, error)
	HasDismissedCanonical(ctx context.Context, assetID, fieldID, canonical string) (bool, error)

	// Bulk previews
	SavePreview(ctx context.Context, p *model.BulkPreview) error
	// ConsumePreview removes and returns the preview record for a token.
	// Tokens are single-use. Returns fault.TokenNotFound when absent and
	// fault.TokenExpired when past its TTL.
	ConsumePreview(ctx context.Context, token string) (*model.BulkPreview, error)
	DeleteExpiredPreviews(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
