package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS work_orders (
	id                TEXT PRIMARY KEY,
	workspace_id      TEXT NOT NULL,
	work_order_number TEXT NOT NULL,
	fm_key            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'open',
	signed_pdf_url    TEXT NOT NULL DEFAULT '',
	signed_file_hash  TEXT NOT NULL DEFAULT '',
	signed_at         DATETIME,
	scheduled_at      DATETIME,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (workspace_id, fm_key, work_order_number)
);

CREATE INDEX IF NOT EXISTS idx_work_orders_open ON work_orders(workspace_id, fm_key, status);
CREATE INDEX IF NOT EXISTS idx_work_orders_signed_hash ON work_orders(workspace_id, signed_file_hash);

CREATE TABLE IF NOT EXISTS review_items (
	id                       TEXT PRIMARY KEY,
	workspace_id             TEXT NOT NULL,
	fm_key                   TEXT NOT NULL DEFAULT '',
	file_hash                TEXT NOT NULL,
	filename                 TEXT NOT NULL DEFAULT '',
	signed_pdf_url           TEXT NOT NULL DEFAULT '',
	raw_text                 TEXT NOT NULL DEFAULT '',
	snippet_image_url        TEXT NOT NULL DEFAULT '',
	candidate_number         TEXT NOT NULL DEFAULT '',
	confidence_score         REAL NOT NULL DEFAULT 0,
	confidence               TEXT NOT NULL,
	outcome                  TEXT NOT NULL,
	reason                   TEXT NOT NULL,
	suggested_work_order_id  TEXT NOT NULL DEFAULT '',
	manual_work_order_number TEXT NOT NULL DEFAULT '',
	resolved                 INTEGER NOT NULL DEFAULT 0,
	resolved_at              DATETIME,
	created_at               DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_items_unresolved_hash ON review_items(workspace_id, file_hash) WHERE resolved = 0;
CREATE INDEX IF NOT EXISTS idx_review_items_queue ON review_items(workspace_id, resolved, created_at);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	workspace_id   TEXT NOT NULL,
	filename       TEXT NOT NULL DEFAULT '',
	file_hash      TEXT NOT NULL DEFAULT '',
	fm_key         TEXT NOT NULL DEFAULT '',
	message_id     TEXT NOT NULL DEFAULT '',
	stage          TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dlq_workspace ON dead_letter_queue(workspace_id, created_at);
`

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Work orders ---

func (s *SQLiteStore) ListOpen(ctx context.Context, workspaceID string, fmKey *string) ([]model.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE workspace_id = ? AND status = 'open'`
	args := []any{workspaceID}
	if fmKey != nil {
		query += ` AND fm_key = ?`
		args = append(args, *fmKey)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open work orders")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan work order")
		}
		out = append(out, *wo)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list open work orders iterate")
}

func (s *SQLiteStore) FindByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.WorkOrder, error) {
	wo, err := scanWorkOrder(s.db.QueryRowContext(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE workspace_id = ? AND signed_file_hash = ? LIMIT 1`,
		workspaceID, fileHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find work order by hash")
	}
	return wo, nil
}

func (s *SQLiteStore) GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error) {
	wo, err := scanWorkOrder(s.db.QueryRowContext(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "work_order %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get work order %s", id)
	}
	return wo, nil
}

func (s *SQLiteStore) MarkSigned(ctx context.Context, id string, upd model.SignedUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_orders SET status = 'signed', signed_pdf_url = ?, signed_file_hash = ?, signed_at = ?, updated_at = ?
		 WHERE id = ? AND status <> 'archived' AND signed_file_hash <> ?`,
		upd.URL, upd.FileHash, upd.SignedAt.UTC(), time.Now().UTC(), id, upd.FileHash,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark work order %s signed", id)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return eris.Wrap(err, "sqlite: rows affected")
	}

	var status, existing string
	err = s.db.QueryRowContext(ctx, `SELECT status, signed_file_hash FROM work_orders WHERE id = ?`, id).Scan(&status, &existing)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "work_order %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check work order %s", id)
	}
	return unsignedReason(id, model.WorkOrderStatus(status), existing, upd.FileHash)
}

func (s *SQLiteStore) UpsertWorkOrders(ctx context.Context, orders []model.WorkOrder) (int64, error) {
	if len(orders) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert work orders: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO work_orders (id, workspace_id, work_order_number, fm_key, status, scheduled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_id, fm_key, work_order_number) DO UPDATE SET
		   scheduled_at = excluded.scheduled_at, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert work orders: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var total int64
	for _, wo := range orders {
		id := wo.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := wo.Status
		if status == "" {
			status = model.WorkOrderOpen
		}
		created := wo.CreatedAt.UTC()
		if wo.CreatedAt.IsZero() {
			created = now
		}
		var scheduled any
		if wo.ScheduledAt != nil {
			scheduled = wo.ScheduledAt.UTC()
		}

		res, err := stmt.ExecContext(ctx, id, wo.WorkspaceID, wo.WorkOrderNumber, wo.FmKey, string(status), scheduled, created, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert work order %s", wo.WorkOrderNumber)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert work orders: commit")
	}
	return total, nil
}

// --- Review queue ---

func (s *SQLiteStore) FindUnresolvedByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.ReviewItem, error) {
	item, err := scanReviewItem(s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM review_items WHERE workspace_id = ? AND file_hash = ? AND resolved = 0 LIMIT 1`,
		workspaceID, fileHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find review item by hash")
	}
	return item, nil
}

func (s *SQLiteStore) InsertReviewItem(ctx context.Context, item *model.ReviewItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO review_items (`+reviewColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_id, file_hash) WHERE resolved = 0 DO NOTHING`,
		reviewArgs(item)...,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert review item")
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	} else if n > 0 {
		return true, nil
	}

	existing, err := s.FindUnresolvedByFileHash(ctx, item.WorkspaceID, item.FileHash)
	if err != nil {
		return false, err
	}
	if existing != nil {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
	}
	return false, nil
}

func (s *SQLiteStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_items WHERE 1=1`
	var args []any
	if filter.WorkspaceID != "" {
		query += ` AND workspace_id = ?`
		args = append(args, filter.WorkspaceID)
	}
	if filter.Resolved != nil {
		query += ` AND resolved = ?`
		args = append(args, *filter.Resolved)
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review items")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list review items iterate")
}

func (s *SQLiteStore) ResolveReviewItem(ctx context.Context, workspaceID, id, manualWorkOrderNumber string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_items SET resolved = 1, resolved_at = ?, manual_work_order_number = ? WHERE id = ? AND workspace_id = ?`,
		time.Now().UTC(), manualWorkOrderNumber, id, workspaceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve review item %s", id)
	}
	return checkRowsAffected(res, "review_item", id)
}

func (s *SQLiteStore) ClearResolved(ctx context.Context, workspaceID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM review_items WHERE workspace_id = ? AND resolved = 1`, workspaceID)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear resolved review items")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ReviewStats(ctx context.Context, workspaceID string, since time.Time) (*model.ReviewStats, error) {
	var stats model.ReviewStats
	since = since.UTC()

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_items WHERE (? = '' OR workspace_id = ?) AND resolved = 0`,
		workspaceID, workspaceID,
	).Scan(&stats.Unresolved)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count unresolved")
	}

	// Ordered select instead of MIN() so the column keeps its DATETIME type.
	var oldest time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT created_at FROM review_items WHERE (? = '' OR workspace_id = ?) AND resolved = 0 ORDER BY created_at ASC LIMIT 1`,
		workspaceID, workspaceID,
	).Scan(&oldest)
	switch {
	case err == nil:
		stats.OldestUnresolved = &oldest
	case !errors.Is(err, sql.ErrNoRows):
		return nil, eris.Wrap(err, "sqlite: oldest unresolved")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_items WHERE (? = '' OR workspace_id = ?) AND created_at >= ?`,
		workspaceID, workspaceID, since,
	).Scan(&stats.CreatedSince)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count created")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_orders WHERE (? = '' OR workspace_id = ?) AND signed_at >= ?`,
		workspaceID, workspaceID, since,
	).Scan(&stats.SignedSince)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count signed")
	}
	return &stats, nil
}

// --- Dead letter queue ---

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (`+dlqColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   stage = excluded.stage, error = excluded.error, error_type = excluded.error_type,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.WorkspaceID, entry.Filename, entry.FileHash, entry.FmKey,
		entry.MessageID, entry.Stage, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	var where []string
	var args []any
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.ErrorType != "" {
		where = append(where, "error_type = ?")
		args = append(args, filter.ErrorType)
	}

	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.Filename, &e.FileHash, &e.FmKey,
			&e.MessageID, &e.Stage, &e.Error, &e.ErrorType, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: remove dlq")
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
