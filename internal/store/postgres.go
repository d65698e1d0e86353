package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    pgPool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	workOrderColumns = `id, workspace_id, work_order_number, fm_key, status, signed_pdf_url, signed_file_hash, signed_at, scheduled_at, created_at, updated_at`
	reviewColumns    = `id, workspace_id, fm_key, file_hash, filename, signed_pdf_url, raw_text, snippet_image_url, candidate_number, confidence_score, confidence, outcome, reason, suggested_work_order_id, manual_work_order_number, resolved, resolved_at, created_at`
	dlqColumns       = `id, workspace_id, filename, file_hash, fm_key, message_id, stage, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at`
)

// preparedStatements lists the per-document lookups prepared on each new
// connection.
var preparedStatements = map[string]string{
	"list_open":          `SELECT ` + workOrderColumns + ` FROM work_orders WHERE workspace_id = $1 AND status = 'open' ORDER BY created_at ASC, id ASC`,
	"list_open_fm":       `SELECT ` + workOrderColumns + ` FROM work_orders WHERE workspace_id = $1 AND fm_key = $2 AND status = 'open' ORDER BY created_at ASC, id ASC`,
	"find_wo_by_hash":    `SELECT ` + workOrderColumns + ` FROM work_orders WHERE workspace_id = $1 AND signed_file_hash = $2 LIMIT 1`,
	"find_review_hash":   `SELECT ` + reviewColumns + ` FROM review_items WHERE workspace_id = $1 AND file_hash = $2 AND resolved = false LIMIT 1`,
	"mark_signed":        `UPDATE work_orders SET status = 'signed', signed_pdf_url = $1, signed_file_hash = $2, signed_at = $3, updated_at = $4 WHERE id = $5 AND status <> 'archived' AND signed_file_hash <> $2`,
	"insert_review_item": `INSERT INTO review_items (` + reviewColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18) ON CONFLICT (workspace_id, file_hash) WHERE resolved = false DO NOTHING RETURNING id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS work_orders (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workspace_id      TEXT NOT NULL,
	work_order_number TEXT NOT NULL,
	fm_key            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'open',
	signed_pdf_url    TEXT NOT NULL DEFAULT '',
	signed_file_hash  TEXT NOT NULL DEFAULT '',
	signed_at         TIMESTAMPTZ,
	scheduled_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workspace_id, fm_key, work_order_number)
);

CREATE INDEX IF NOT EXISTS idx_work_orders_open ON work_orders(workspace_id, fm_key) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_work_orders_signed_hash ON work_orders(workspace_id, signed_file_hash) WHERE signed_file_hash <> '';

CREATE TABLE IF NOT EXISTS review_items (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workspace_id             TEXT NOT NULL,
	fm_key                   TEXT NOT NULL DEFAULT '',
	file_hash                TEXT NOT NULL,
	filename                 TEXT NOT NULL DEFAULT '',
	signed_pdf_url           TEXT NOT NULL DEFAULT '',
	raw_text                 TEXT NOT NULL DEFAULT '',
	snippet_image_url        TEXT NOT NULL DEFAULT '',
	candidate_number         TEXT NOT NULL DEFAULT '',
	confidence_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence               TEXT NOT NULL,
	outcome                  TEXT NOT NULL,
	reason                   TEXT NOT NULL,
	suggested_work_order_id  TEXT NOT NULL DEFAULT '',
	manual_work_order_number TEXT NOT NULL DEFAULT '',
	resolved                 BOOLEAN NOT NULL DEFAULT false,
	resolved_at              TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_items_unresolved_hash ON review_items(workspace_id, file_hash) WHERE resolved = false;
CREATE INDEX IF NOT EXISTS idx_review_items_queue ON review_items(workspace_id, resolved, created_at);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_workspace ON dead_letter_queue(workspace_id, created_at);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Work orders ---

func (s *PostgresStore) ListOpen(ctx context.Context, workspaceID string, fmKey *string) ([]model.WorkOrder, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if fmKey != nil {
		rows, err = s.pool.Query(ctx, preparedStatements["list_open_fm"], workspaceID, *fmKey)
	} else {
		rows, err = s.pool.Query(ctx, preparedStatements["list_open"], workspaceID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open work orders")
	}
	defer rows.Close()

	var out []model.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan work order")
		}
		out = append(out, *wo)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list open work orders iterate")
}

func (s *PostgresStore) FindByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.WorkOrder, error) {
	wo, err := scanWorkOrder(s.pool.QueryRow(ctx, preparedStatements["find_wo_by_hash"], workspaceID, fileHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find work order by hash")
	}
	return wo, nil
}

func (s *PostgresStore) GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error) {
	wo, err := scanWorkOrder(s.pool.QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "work_order %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get work order %s", id)
	}
	return wo, nil
}

func (s *PostgresStore) MarkSigned(ctx context.Context, id string, upd model.SignedUpdate) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["mark_signed"],
		upd.URL, upd.FileHash, upd.SignedAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark work order %s signed", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing changed: the same signature is already recorded, the work
	// order was archived, or it does not exist.
	var status, existing string
	err = s.pool.QueryRow(ctx, `SELECT status, signed_file_hash FROM work_orders WHERE id = $1`, id).Scan(&status, &existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "work_order %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check work order %s", id)
	}
	return unsignedReason(id, model.WorkOrderStatus(status), existing, upd.FileHash)
}

func (s *PostgresStore) UpsertWorkOrders(ctx context.Context, orders []model.WorkOrder) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(orders))
	for _, wo := range orders {
		id := wo.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := wo.Status
		if status == "" {
			status = model.WorkOrderOpen
		}
		created := wo.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, []any{
			id, wo.WorkspaceID, wo.WorkOrderNumber, wo.FmKey, string(status), wo.ScheduledAt, created, now,
		})
	}

	n, err := workOrderMerge.run(ctx, s.pool, rows)
	return n, eris.Wrap(err, "postgres: upsert work orders")
}

// --- Review queue ---

func (s *PostgresStore) FindUnresolvedByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.ReviewItem, error) {
	item, err := scanReviewItem(s.pool.QueryRow(ctx, preparedStatements["find_review_hash"], workspaceID, fileHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find review item by hash")
	}
	return item, nil
}

func (s *PostgresStore) InsertReviewItem(ctx context.Context, item *model.ReviewItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	var id string
	err := s.pool.QueryRow(ctx, preparedStatements["insert_review_item"], reviewArgs(item)...).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrap(err, "postgres: insert review item")
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

func (s *PostgresStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_items WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.WorkspaceID != "" {
		query += fmt.Sprintf(` AND workspace_id = $%d`, argIdx)
		args = append(args, filter.WorkspaceID)
		argIdx++
	}
	if filter.Resolved != nil {
		query += fmt.Sprintf(` AND resolved = $%d`, argIdx)
		args = append(args, *filter.Resolved)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review items")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list review items iterate")
}

func (s *PostgresStore) ResolveReviewItem(ctx context.Context, workspaceID, id, manualWorkOrderNumber string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_items SET resolved = true, resolved_at = $1, manual_work_order_number = $2 WHERE id = $3 AND workspace_id = $4`,
		time.Now().UTC(), manualWorkOrderNumber, id, workspaceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve review item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "review_item %s", id)
	}
	return nil
}

func (s *PostgresStore) ClearResolved(ctx context.Context, workspaceID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM review_items WHERE workspace_id = $1 AND resolved = true`, workspaceID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear resolved review items")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReviewStats(ctx context.Context, workspaceID string, since time.Time) (*model.ReviewStats, error) {
	var stats model.ReviewStats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE resolved = false),
		   MIN(created_at) FILTER (WHERE resolved = false),
		   COUNT(*) FILTER (WHERE created_at >= $2)
		 FROM review_items WHERE ($1 = '' OR workspace_id = $1)`,
		workspaceID, since,
	).Scan(&stats.Unresolved, &stats.OldestUnresolved, &stats.CreatedSince)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: review stats")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM work_orders WHERE ($1 = '' OR workspace_id = $1) AND signed_at >= $2`,
		workspaceID, since,
	).Scan(&stats.SignedSince)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: signed work order stats")
	}
	return &stats, nil
}

// --- Dead letter queue ---

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (`+dlqColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   stage = $7, error = $8, error_type = $9, retry_count = $10,
		   next_retry_at = $12, last_failed_at = $14`,
		entry.ID, entry.WorkspaceID, entry.Filename, entry.FileHash, entry.FmKey,
		entry.MessageID, entry.Stage, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	var where []string
	args := []any{}
	if filter.WorkspaceID != "" {
		args = append(args, filter.WorkspaceID)
		where = append(where, fmt.Sprintf("workspace_id = $%d", len(args)))
	}
	if filter.ErrorType != "" {
		args = append(args, filter.ErrorType)
		where = append(where, fmt.Sprintf("error_type = $%d", len(args)))
	}

	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.Filename, &e.FileHash, &e.FmKey,
			&e.MessageID, &e.Stage, &e.Error, &e.ErrorType, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row scannable) (*model.WorkOrder, error) {
	var wo model.WorkOrder
	var status string
	if err := row.Scan(&wo.ID, &wo.WorkspaceID, &wo.WorkOrderNumber, &wo.FmKey, &status,
		&wo.SignedPDFURL, &wo.SignedFileHash, &wo.SignedAt, &wo.ScheduledAt,
		&wo.CreatedAt, &wo.UpdatedAt); err != nil {
		return nil, err
	}
	wo.Status = model.WorkOrderStatus(status)
	return &wo, nil
}

func scanReviewItem(row scannable) (*model.ReviewItem, error) {
	var r model.ReviewItem
	var tier, outcome string
	if err := row.Scan(&r.ID, &r.WorkspaceID, &r.FmKey, &r.FileHash, &r.Filename,
		&r.SignedPDFURL, &r.RawText, &r.SnippetImageURL, &r.CandidateNumber,
		&r.ConfidenceScore, &tier, &outcome, &r.Reason, &r.SuggestedWorkOrderID,
		&r.ManualWorkOrderNumber, &r.Resolved, &r.ResolvedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Confidence = model.ConfidenceTier(tier)
	r.Outcome = model.Outcome(outcome)
	return &r, nil
}

// reviewArgs returns the item's values in reviewColumns order.
func reviewArgs(r *model.ReviewItem) []any {
	return []any{
		r.ID, r.WorkspaceID, r.FmKey, r.FileHash, r.Filename,
		r.SignedPDFURL, r.RawText, r.SnippetImageURL, r.CandidateNumber,
		r.ConfidenceScore, string(r.Confidence), string(r.Outcome), r.Reason, r.SuggestedWorkOrderID,
		r.ManualWorkOrderNumber, r.Resolved, r.ResolvedAt, r.CreatedAt,
	}
}
