package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// pgPool is the subset of *pgxpool.Pool the Postgres store uses. pgx.Tx and
// pgxmock pools satisfy it too.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// stagedMerge loads rows with COPY into a transaction-scoped staging table
// and merges them into the target in one statement.
type stagedMerge struct {
	table   string
	columns []string
	// key is the unique constraint the merge conflicts on.
	key []string
	// refresh lists the columns overwritten when a key already exists.
	refresh []string
}

var workOrderMerge = stagedMerge{
	table:   "work_orders",
	columns: []string{"id", "workspace_id", "work_order_number", "fm_key", "status", "scheduled_at", "created_at", "updated_at"},
	key:     []string{"workspace_id", "fm_key", "work_order_number"},
	refresh: []string{"scheduled_at", "updated_at"},
}

func (m stagedMerge) staging() string {
	return "staged_" + m.table
}

// run merges rows and returns how many target rows were inserted or
// refreshed. Rows repeating a key collapse to the last one staged, since
// ON CONFLICT cannot touch the same target row twice in one statement.
func (m stagedMerge) run(ctx context.Context, pool pgPool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "merge: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	staging := pgx.Identifier{m.staging()}.Sanitize()
	target := pgx.Identifier{m.table}.Sanitize()

	create := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS, staged_seq BIGSERIAL) ON COMMIT DROP",
		staging, target,
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "merge: create staging table for %s", m.table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{m.staging()}, m.columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "merge: copy into staging table for %s", m.table)
	}

	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "merge: insert into %s", m.table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "merge: commit tx")
	}
	return tag.RowsAffected(), nil
}

func (m stagedMerge) mergeSQL() string {
	cols := quoteJoin(m.columns)
	key := quoteJoin(m.key)

	set := make([]string, len(m.refresh))
	for i, c := range m.refresh {
		q := pgx.Identifier{c}.Sanitize()
		set[i] = q + " = EXCLUDED." + q
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT DISTINCT ON (%s) %s FROM %s ORDER BY %s, staged_seq DESC ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{m.table}.Sanitize(),
		cols,
		key,
		cols,
		pgx.Identifier{m.staging()}.Sanitize(),
		key,
		key,
		strings.Join(set, ", "),
	)
}

func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
