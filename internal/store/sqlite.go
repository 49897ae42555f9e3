package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS value_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	asset_id      TEXT NOT NULL,
	field_id      TEXT NOT NULL,
	value         TEXT NOT NULL,
	source        TEXT NOT NULL,
	producer      TEXT NOT NULL,
	confidence    REAL,
	approved_at   DATETIME,
	approved_by   TEXT NOT NULL DEFAULT '',
	overridden_at DATETIME,
	overridden_by TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_value_entries_asset ON value_entries(asset_id);
CREATE INDEX IF NOT EXISTS idx_value_entries_asset_field ON value_entries(asset_id, field_id, id DESC);

CREATE TABLE IF NOT EXISTS value_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id   INTEGER NOT NULL REFERENCES value_entries(id),
	asset_id   TEXT NOT NULL,
	field_id   TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	actor      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_value_history_asset ON value_history(asset_id, id DESC);

CREATE TABLE IF NOT EXISTS candidates (
	id           TEXT PRIMARY KEY,
	asset_id     TEXT NOT NULL,
	field_id     TEXT NOT NULL,
	value        TEXT NOT NULL,
	canonical    TEXT NOT NULL,
	confidence   REAL,
	producer     TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at  DATETIME,
	dismissed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_candidates_asset ON candidates(asset_id);
CREATE INDEX IF NOT EXISTS idx_candidates_field_canonical ON candidates(asset_id, field_id, canonical);

CREATE TABLE IF NOT EXISTS bulk_previews (
	token      TEXT PRIMARY KEY,
	asset_ids  TEXT NOT NULL,
	op         TEXT NOT NULL,
	field_id   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bulk_previews_expires ON bulk_previews(expires_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendEntry(ctx context.Context, e *model.ValueEntry, hist *model.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append entry")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertEntryTxSQLite(ctx, tx, e); err != nil {
		return err
	}
	hist.EntryID = e.ID
	if err := insertHistoryTxSQLite(ctx, tx, hist); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append entry")
}

func insertEntryTxSQLite(ctx context.Context, tx *sql.Tx, e *model.ValueEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO value_entries (asset_id, field_id, value, source, producer, confidence,
			approved_at, approved_by, overridden_at, overridden_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AssetID, e.FieldID, e.Value, string(e.Source), string(e.Producer), e.Confidence,
		e.ApprovedAt, e.ApprovedBy, e.OverriddenAt, e.OverriddenBy, e.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert entry")
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: entry insert id")
	}
	return nil
}

func insertHistoryTxSQLite(ctx context.Context, tx *sql.Tx, h *model.HistoryEntry) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO value_history (entry_id, asset_id, field_id, old_value, new_value, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.EntryID, h.AssetID, h.FieldID, h.OldValue, h.NewValue, h.Actor, h.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert history")
	}
	h.ID, err = res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: history insert id")
	}
	return nil
}

const sqliteEntryColumns = `id, asset_id, field_id, value, source, producer, confidence,
	approved_at, approved_by, overridden_at, overridden_by, created_at`

func scanEntrySQLite(row interface{ Scan(...any) error }) (*model.ValueEntry, error) {
	var e model.ValueEntry
	var source, producer string
	err := row.Scan(&e.ID, &e.AssetID, &e.FieldID, &e.Value, &source, &producer, &e.Confidence,
		&e.ApprovedAt, &e.ApprovedBy, &e.OverriddenAt, &e.OverriddenBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Source = model.Source(source)
	e.Producer = model.Producer(producer)
	return &e, nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id int64) (*model.ValueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM value_entries WHERE id = ?`, id)
	e, err := scanEntrySQLite(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get entry %d", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, assetID string) ([]model.ValueEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+sqliteEntryColumns+` FROM value_entries WHERE asset_id = ? ORDER BY id`, assetID)
}

func (s *SQLiteStore) ListFieldEntries(ctx context.Context, assetID, fieldID string) ([]model.ValueEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+sqliteEntryColumns+` FROM value_entries WHERE asset_id = ? AND field_id = ? ORDER BY id`,
		assetID, fieldID)
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]model.ValueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query entries")
	}
	defer rows.Close()

	var entries []model.ValueEntry
	for rows.Next() {
		e, err := scanEntrySQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) StampApproval(ctx context.Context, entryID int64, actor string, at time.Time, hist *model.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin stamp approval")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE value_entries SET approved_at = ?, approved_by = ?
		WHERE id = ? AND approved_at IS NULL AND source NOT IN (?, ?)`,
		at, actor, entryID, string(model.SourceAIRejected), string(model.SourceUserRejected))
	if err != nil {
		return eris.Wrapf(err, "sqlite: stamp approval %d", entryID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.AlreadyResolved("entry %d is already approved or rejected", entryID)
	}
	hist.EntryID = entryID
	if err := insertHistoryTxSQLite(ctx, tx, hist); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit stamp approval")
}

func (s *SQLiteStore) MarkRejected(ctx context.Context, entryID int64, rejected model.Source, hist *model.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mark rejected")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := markRejectedTxSQLite(ctx, tx, entryID, rejected); err != nil {
		return err
	}
	hist.EntryID = entryID
	if err := insertHistoryTxSQLite(ctx, tx, hist); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mark rejected")
}

func markRejectedTxSQLite(ctx context.Context, tx *sql.Tx, entryID int64, rejected model.Source) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE value_entries SET source = ?
		WHERE id = ? AND approved_at IS NULL AND source NOT IN (?, ?)`,
		string(rejected), entryID, string(model.SourceAIRejected), string(model.SourceUserRejected))
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark rejected %d", entryID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.AlreadyResolved("entry %d is already approved or rejected", entryID)
	}
	return nil
}

func (s *SQLiteStore) RejectAndAppend(ctx context.Context, rejectID int64, rejected model.Source, e *model.ValueEntry, hists []*model.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reject and append")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := markRejectedTxSQLite(ctx, tx, rejectID, rejected); err != nil {
		return err
	}
	if err := insertEntryTxSQLite(ctx, tx, e); err != nil {
		return err
	}
	for _, h := range hists {
		if h.EntryID == 0 {
			h.EntryID = e.ID
		}
		if err := insertHistoryTxSQLite(ctx, tx, h); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit reject and append")
}

func (s *SQLiteStore) ListHistory(ctx context.Context, assetID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, asset_id, field_id, old_value, new_value, actor, created_at
		FROM value_history WHERE asset_id = ? ORDER BY id DESC`, assetID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list history")
	}
	defer rows.Close()

	var hist []model.HistoryEntry
	for rows.Next() {
		var h model.HistoryEntry
		if err := rows.Scan(&h.ID, &h.EntryID, &h.AssetID, &h.FieldID,
			&h.OldValue, &h.NewValue, &h.Actor, &h.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		hist = append(hist, h)
	}
	return hist, rows.Err()
}

func (s *SQLiteStore) InsertCandidate(ctx context.Context, c *model.Candidate) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (id, asset_id, field_id, value, canonical, confidence, producer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AssetID, c.FieldID, c.Value, c.Canonical, c.Confidence, string(c.Producer), c.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert candidate")
	}
	return nil
}

func scanCandidateSQLite(row interface{ Scan(...any) error }) (*model.Candidate, error) {
	var c model.Candidate
	var producer string
	err := row.Scan(&c.ID, &c.AssetID, &c.FieldID, &c.Value, &c.Canonical, &c.Confidence,
		&producer, &c.CreatedAt, &c.ResolvedAt, &c.DismissedAt)
	if err != nil {
		return nil, err
	}
	c.Producer = model.Producer(producer)
	return &c, nil
}

func (s *SQLiteStore) GetCandidate(ctx context.Context, id string) (*model.Candidate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, asset_id, field_id, value, canonical, confidence, producer, created_at, resolved_at, dismissed_at
		FROM candidates WHERE id = ?`, id)
	c, err := scanCandidateSQLite(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get candidate %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListOpenCandidates(ctx context.Context, assetID string) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_id, field_id, value, canonical, confidence, producer, created_at, resolved_at, dismissed_at
		FROM candidates
		WHERE asset_id = ? AND resolved_at IS NULL AND dismissed_at IS NULL
		ORDER BY created_at`, assetID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open candidates")
	}
	defer rows.Close()

	var cands []model.Candidate
	for rows.Next() {
		c, err := scanCandidateSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		cands = append(cands, *c)
	}
	return cands, rows.Err()
}

func (s *SQLiteStore) ResolveCandidate(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE candidates SET resolved_at = ?
		WHERE id = ? AND resolved_at IS NULL AND dismissed_at IS NULL`, at, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve candidate %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.AlreadyResolved("candidate %s is already resolved or dismissed", id)
	}
	return nil
}

func (s *SQLiteStore) DismissCandidates(ctx context.Context, assetID, fieldID, canonical string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE candidates SET dismissed_at = ?
		WHERE asset_id = ? AND field_id = ? AND canonical = ?
		  AND resolved_at IS NULL AND dismissed_at IS NULL`,
		at, assetID, fieldID, canonical)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: dismiss candidates")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: dismiss candidates rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) HasDismissedCanonical(ctx context.Context, assetID, fieldID, canonical string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM candidates
			WHERE asset_id = ? AND field_id = ? AND canonical = ? AND dismissed_at IS NOT NULL
		)`, assetID, fieldID, canonical).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check dismissed canonical")
	}
	return exists, nil
}

func (s *SQLiteStore) SavePreview(ctx context.Context, p *model.BulkPreview) error {
	assetJSON, err := json.Marshal(p.AssetIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal preview assets")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bulk_previews (token, asset_ids, op, field_id, payload, actor_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Token, string(assetJSON), string(p.Op), p.FieldID, p.Payload, p.ActorID, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: save preview")
	}
	return nil
}

func (s *SQLiteStore) ConsumePreview(ctx context.Context, token string) (*model.BulkPreview, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin consume preview")
	}
	defer tx.Rollback() //nolint:errcheck

	p := &model.BulkPreview{}
	var assetJSON, op string
	err = tx.QueryRowContext(ctx, `
		SELECT token, asset_ids, op, field_id, payload, actor_id, created_at, expires_at
		FROM bulk_previews WHERE token = ?`, token).
		Scan(&p.Token, &assetJSON, &op, &p.FieldID, &p.Payload, &p.ActorID, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fault.TokenNotFound("preview token not found")
		}
		return nil, eris.Wrap(err, "sqlite: consume preview")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bulk_previews WHERE token = ?`, token); err != nil {
		return nil, eris.Wrap(err, "sqlite: delete preview")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit consume preview")
	}
	if err := json.Unmarshal([]byte(assetJSON), &p.AssetIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal preview assets")
	}
	p.Op = model.BulkOp(op)
	if time.Now().After(p.ExpiresAt) {
		return nil, fault.TokenExpired("preview token expired at %s", p.ExpiresAt.Format(time.RFC3339))
	}
	return p, nil
}

func (s *SQLiteStore) DeleteExpiredPreviews(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bulk_previews WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired previews")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expired previews rows affected")
	}
	return n, nil
}
