package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/brandvault/metaledger/internal/db"
	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests (pgxmock) and by
// callers that manage pool lifecycle themselves.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS value_entries (
	id            BIGSERIAL PRIMARY KEY,
	asset_id      TEXT NOT NULL,
	field_id      TEXT NOT NULL,
	value         TEXT NOT NULL,
	source        TEXT NOT NULL,
	producer      TEXT NOT NULL,
	confidence    DOUBLE PRECISION,
	approved_at   TIMESTAMPTZ,
	approved_by   TEXT NOT NULL DEFAULT '',
	overridden_at TIMESTAMPTZ,
	overridden_by TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_value_entries_asset ON value_entries(asset_id);
CREATE INDEX IF NOT EXISTS idx_value_entries_asset_field ON value_entries(asset_id, field_id, id DESC);

CREATE TABLE IF NOT EXISTS value_history (
	id         BIGSERIAL PRIMARY KEY,
	entry_id   BIGINT NOT NULL REFERENCES value_entries(id),
	asset_id   TEXT NOT NULL,
	field_id   TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	actor      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_value_history_asset ON value_history(asset_id, id DESC);

CREATE TABLE IF NOT EXISTS candidates (
	id           TEXT PRIMARY KEY,
	asset_id     TEXT NOT NULL,
	field_id     TEXT NOT NULL,
	value        TEXT NOT NULL,
	canonical    TEXT NOT NULL,
	confidence   DOUBLE PRECISION,
	producer     TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at  TIMESTAMPTZ,
	dismissed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_candidates_asset ON candidates(asset_id);
CREATE INDEX IF NOT EXISTS idx_candidates_field_canonical ON candidates(asset_id, field_id, canonical);

CREATE TABLE IF NOT EXISTS bulk_previews (
	token      TEXT PRIMARY KEY,
	asset_ids  JSONB NOT NULL,
	op         TEXT NOT NULL,
	field_id   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bulk_previews_expires ON bulk_previews(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// entryColumns is the standard column list for value entry queries.
const entryColumns = `id, asset_id, field_id, value, source, producer, confidence,
	approved_at, approved_by, overridden_at, overridden_by, created_at`

// entryDests returns scan destinations for a ValueEntry.
func entryDests(e *model.ValueEntry) []any {
	return []any{
		&e.ID, &e.AssetID, &e.FieldID, &e.Value, &e.Source, &e.Producer, &e.Confidence,
		&e.ApprovedAt, &e.ApprovedBy, &e.OverriddenAt, &e.OverriddenBy, &e.CreatedAt,
	}
}

// AppendEntry inserts a new ledger row with its paired history row in one
// transaction. Sets e.ID, e.CreatedAt, and hist.EntryID.
func (s *PostgresStore) AppendEntry(ctx context.Context, e *model.ValueEntry, hist *model.HistoryEntry) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO value_entries (asset_id, field_id, value, source, producer, confidence,
				approved_at, approved_by, overridden_at, overridden_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at`,
			e.AssetID, e.FieldID, e.Value, string(e.Source), string(e.Producer), e.Confidence,
			e.ApprovedAt, e.ApprovedBy, e.OverriddenAt, e.OverriddenBy,
		).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "postgres: insert entry")
		}
		hist.EntryID = e.ID
		return insertHistoryTxPG(ctx, tx, hist)
	})
	return err
}

func insertHistoryTxPG(ctx context.Context, tx pgx.Tx, h *model.HistoryEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO value_history (entry_id, asset_id, field_id, old_value, new_value, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		h.EntryID, h.AssetID, h.FieldID, h.OldValue, h.NewValue, h.Actor,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: insert history")
	}
	return nil
}

// GetEntry fetches a ledger row by id. Returns (nil, nil) when absent.
func (s *PostgresStore) GetEntry(ctx context.Context, id int64) (*model.ValueEntry, error) {
	e := &model.ValueEntry{}
	err := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM value_entries WHERE id=$1`, id).
		Scan(entryDests(e)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get entry %d", id)
	}
	return e, nil
}

// ListEntries returns all ledger rows for an asset in insertion order.
func (s *PostgresStore) ListEntries(ctx context.Context, assetID string) ([]model.ValueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM value_entries WHERE asset_id=$1 ORDER BY id`, assetID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListFieldEntries returns all ledger rows for one (asset, field) pair in
// insertion order.
func (s *PostgresStore) ListFieldEntries(ctx context.Context, assetID, fieldID string) ([]model.ValueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM value_entries WHERE asset_id=$1 AND field_id=$2 ORDER BY id`,
		assetID, fieldID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list field entries")
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]model.ValueEntry, error) {
	var entries []model.ValueEntry
	for rows.Next() {
		var e model.ValueEntry
		if err := rows.Scan(entryDests(&e)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StampApproval approves an unapproved, unrejected entry with its history row.
func (s *PostgresStore) StampApproval(ctx context.Context, entryID int64, actor string, at time.Time, hist *model.HistoryEntry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE value_entries SET approved_at=$2, approved_by=$3
			WHERE id=$1 AND approved_at IS NULL AND source NOT IN ($4, $5)`,
			entryID, at, actor, string(model.SourceAIRejected), string(model.SourceUserRejected))
		if err != nil {
			return eris.Wrapf(err, "postgres: stamp approval %d", entryID)
		}
		if tag.RowsAffected() == 0 {
			return fault.AlreadyResolved("entry %d is already approved or rejected", entryID)
		}
		hist.EntryID = entryID
		return insertHistoryTxPG(ctx, tx, hist)
	})
}

// MarkRejected flips an unapproved entry's source to its terminal rejected
// variant, preserving the row for audit, with its history row.
func (s *PostgresStore) MarkRejected(ctx context.Context, entryID int64, rejected model.Source, hist *model.HistoryEntry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := markRejectedTxPG(ctx, tx, entryID, rejected); err != nil {
			return err
		}
		hist.EntryID = entryID
		return insertHistoryTxPG(ctx, tx, hist)
	})
}

func markRejectedTxPG(ctx context.Context, tx pgx.Tx, entryID int64, rejected model.Source) error {
	tag, err := tx.Exec(ctx, `
		UPDATE value_entries SET source=$2
		WHERE id=$1 AND approved_at IS NULL AND source NOT IN ($3, $4)`,
		entryID, string(rejected), string(model.SourceAIRejected), string(model.SourceUserRejected))
	if err != nil {
		return eris.Wrapf(err, "postgres: mark rejected %d", entryID)
	}
	if tag.RowsAffected() == 0 {
		return fault.AlreadyResolved("entry %d is already approved or rejected", entryID)
	}
	return nil
}

// RejectAndAppend rejects one entry and appends its replacement atomically.
func (s *PostgresStore) RejectAndAppend(ctx context.Context, rejectID int64, rejected model.Source, e *model.ValueEntry, hists []*model.HistoryEntry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := markRejectedTxPG(ctx, tx, rejectID, rejected); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO value_entries (asset_id, field_id, value, source, producer, confidence,
				approved_at, approved_by, overridden_at, overridden_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at`,
			e.AssetID, e.FieldID, e.Value, string(e.Source), string(e.Producer), e.Confidence,
			e.ApprovedAt, e.ApprovedBy, e.OverriddenAt, e.OverriddenBy,
		).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "postgres: insert replacement entry")
		}
		for _, h := range hists {
			if h.EntryID == 0 {
				h.EntryID = e.ID
			}
			if err := insertHistoryTxPG(ctx, tx, h); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListHistory returns the audit trail for an asset, newest first.
func (s *PostgresStore) ListHistory(ctx context.Context, assetID string) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entry_id, asset_id, field_id, old_value, new_value, actor, created_at
		FROM value_history WHERE asset_id=$1 ORDER BY id DESC`, assetID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list history")
	}
	defer rows.Close()

	var hist []model.HistoryEntry
	for rows.Next() {
		var h model.HistoryEntry
		if err := rows.Scan(&h.ID, &h.EntryID, &h.AssetID, &h.FieldID,
			&h.OldValue, &h.NewValue, &h.Actor, &h.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		hist = append(hist, h)
	}
	return hist, rows.Err()
}

// InsertCandidate stores a new open candidate. Sets c.CreatedAt.
func (s *PostgresStore) InsertCandidate(ctx context.Context, c *model.Candidate) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO candidates (id, asset_id, field_id, value, canonical, confidence, producer)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		c.ID, c.AssetID, c.FieldID, c.Value, c.Canonical, c.Confidence, string(c.Producer),
	).Scan(&c.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: insert candidate")
	}
	return nil
}

const candidateColumns = `id, asset_id, field_id, value, canonical, confidence, producer,
	created_at, resolved_at, dismissed_at`

func candidateDests(c *model.Candidate) []any {
	return []any{
		&c.ID, &c.AssetID, &c.FieldID, &c.Value, &c.Canonical, &c.Confidence, &c.Producer,
		&c.CreatedAt, &c.ResolvedAt, &c.DismissedAt,
	}
}

// GetCandidate fetches a candidate by id. Returns (nil, nil) when absent.
func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := s.pool.QueryRow(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id=$1`, id).
		Scan(candidateDests(c)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get candidate %s", id)
	}
	return c, nil
}

// ListOpenCandidates returns the asset's candidates still awaiting review.
func (s *PostgresStore) ListOpenCandidates(ctx context.Context, assetID string) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+candidateColumns+` FROM candidates
		WHERE asset_id=$1 AND resolved_at IS NULL AND dismissed_at IS NULL
		ORDER BY created_at`, assetID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open candidates")
	}
	defer rows.Close()

	var cands []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(candidateDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		cands = append(cands, c)
	}
	return cands, rows.Err()
}

// ResolveCandidate marks an open candidate as accepted.
func (s *PostgresStore) ResolveCandidate(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE candidates SET resolved_at=$2
		WHERE id=$1 AND resolved_at IS NULL AND dismissed_at IS NULL`, id, at)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve candidate %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.AlreadyResolved("candidate %s is already resolved or dismissed", id)
	}
	return nil
}

// DismissCandidates dismisses every open candidate on the field whose
// canonical form matches. One statement, so propagation is atomic.
func (s *PostgresStore) DismissCandidates(ctx context.Context, assetID, fieldID, canonical string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE candidates SET dismissed_at=$4
		WHERE asset_id=$1 AND field_id=$2 AND canonical=$3
		  AND resolved_at IS NULL AND dismissed_at IS NULL`,
		assetID, fieldID, canonical, at)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: dismiss candidates")
	}
	return tag.RowsAffected(), nil
}

// HasDismissedCanonical reports whether a dismissed candidate with the same
// canonical form exists for the (asset, field) pair.
func (s *PostgresStore) HasDismissedCanonical(ctx context.Context, assetID, fieldID, canonical string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM candidates
			WHERE asset_id=$1 AND field_id=$2 AND canonical=$3 AND dismissed_at IS NOT NULL
		)`, assetID, fieldID, canonical).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: check dismissed canonical")
	}
	return exists, nil
}

// SavePreview stores a bulk preview record under its token.
func (s *PostgresStore) SavePreview(ctx context.Context, p *model.BulkPreview) error {
	assetJSON, err := json.Marshal(p.AssetIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal preview assets")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bulk_previews (token, asset_ids, op, field_id, payload, actor_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.Token, assetJSON, string(p.Op), p.FieldID, p.Payload, p.ActorID, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return eris.Wrap(err, "postgres: save preview")
	}
	return nil
}

// ConsumePreview removes and returns the preview for a token. Single-use.
func (s *PostgresStore) ConsumePreview(ctx context.Context, token string) (*model.BulkPreview, error) {
	p := &model.BulkPreview{}
	var assetJSON []byte
	var op string
	err := s.pool.QueryRow(ctx, `
		DELETE FROM bulk_previews WHERE token=$1
		RETURNING token, asset_ids, op, field_id, payload, actor_id, created_at, expires_at`, token).
		Scan(&p.Token, &assetJSON, &op, &p.FieldID, &p.Payload, &p.ActorID, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fault.TokenNotFound("preview token not found")
		}
		return nil, eris.Wrap(err, "postgres: consume preview")
	}
	if err := json.Unmarshal(assetJSON, &p.AssetIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal preview assets")
	}
	p.Op = model.BulkOp(op)
	if time.Now().After(p.ExpiresAt) {
		return nil, fault.TokenExpired("preview token expired at %s", p.ExpiresAt.Format(time.RFC3339))
	}
	return p, nil
}

// DeleteExpiredPreviews removes preview records past their TTL.
func (s *PostgresStore) DeleteExpiredPreviews(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bulk_previews WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired previews")
	}
	return tag.RowsAffected(), nil
}
