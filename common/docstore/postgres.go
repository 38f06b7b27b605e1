package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugtracker/history-stack/common/database"
)

// PostgresStore keeps documents as JSONB rows in a single "documents" table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.get(ctx, collection, id)
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]*Document, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.query(ctx, q)
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.set(ctx, collection, id, data)
}

func (s *PostgresStore) Create(ctx context.Context, collection, id string, data map[string]any) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.create(ctx, collection, id, data)
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.delete(ctx, collection, id)
}

func (s *PostgresStore) DeleteTree(ctx context.Context, collection, id string) (int, error) {
	ctx, cancel := database.BulkContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.deleteTree(ctx, collection, id)
}

func (s *PostgresStore) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.arrayUnion(ctx, collection, id, field, values)
}

func (s *PostgresStore) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	return pgOps{q: s.pool}.increment(ctx, collection, id, field, delta)
}

// RunTransaction runs fn in a read-committed transaction; reads through tx lock rows FOR UPDATE.
func (s *PostgresStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	ctx, cancel := database.BulkContext(ctx)
	defer cancel()
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{ops: pgOps{q: tx, lock: true}})
	})
}

type pgTx struct {
	ops pgOps
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	return t.ops.get(ctx, collection, id)
}

func (t *pgTx) Query(ctx context.Context, q Query) ([]*Document, error) {
	return t.ops.query(ctx, q)
}

func (t *pgTx) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return t.ops.set(ctx, collection, id, data)
}

func (t *pgTx) Create(ctx context.Context, collection, id string, data map[string]any) error {
	return t.ops.create(ctx, collection, id, data)
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) error {
	return t.ops.delete(ctx, collection, id)
}

func (t *pgTx) DeleteTree(ctx context.Context, collection, id string) (int, error) {
	return t.ops.deleteTree(ctx, collection, id)
}

func (t *pgTx) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	return t.ops.arrayUnion(ctx, collection, id, field, values)
}

func (t *pgTx) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	return t.ops.increment(ctx, collection, id, field, delta)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgOps struct {
	q    querier
	lock bool
}

func (o pgOps) get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validate(collection, id); err != nil {
		return nil, err
	}
	query := `SELECT collection, id, data, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`
	if o.lock {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(o.q.QueryRow(ctx, query, collection, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (o pgOps) query(ctx context.Context, q Query) ([]*Document, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection", ErrInvalidPath)
	}

	args := []any{q.Collection}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	dataExpr := "data"
	if len(q.Select) > 0 {
		parts := make([]string, 0, len(q.Select))
		for _, f := range q.Select {
			p := arg(f)
			parts = append(parts, p+"::text, data->"+p+"::text")
		}
		dataExpr = "jsonb_strip_nulls(jsonb_build_object(" + strings.Join(parts, ", ") + "))"
	}

	var sb strings.Builder
	sb.WriteString("SELECT collection, id, " + dataExpr + ", created_at, updated_at FROM documents WHERE collection = $1")

	dir, cmp := "ASC", ">"
	if q.Desc {
		dir, cmp = "DESC", "<"
	}

	orderExpr := ""
	if q.OrderBy != "" {
		orderExpr = "data->" + arg(q.OrderBy) + "::text"
	}

	if q.StartAfter != nil {
		if orderExpr != "" {
			value, err := json.Marshal(q.StartAfter.Value)
			if err != nil {
				return nil, fmt.Errorf("encode cursor: %w", err)
			}
			fmt.Fprintf(&sb, " AND (%s, id) %s (%s::jsonb, %s)", orderExpr, cmp, arg(string(value)), arg(q.StartAfter.ID))
		} else {
			fmt.Fprintf(&sb, " AND id %s %s", cmp, arg(q.StartAfter.ID))
		}
	}

	if orderExpr != "" {
		fmt.Fprintf(&sb, " ORDER BY %s %s NULLS %s, id %s", orderExpr, dir, nullsFor(q.Desc), dir)
	} else {
		fmt.Fprintf(&sb, " ORDER BY id %s", dir)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}
	if o.lock {
		sb.WriteString(" FOR UPDATE")
	}

	rows, err := o.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return docs, nil
}

func nullsFor(desc bool) string {
	if desc {
		return "FIRST"
	}
	return "LAST"
}

func (o pgOps) set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	_, err = o.q.Exec(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (o pgOps) create(ctx context.Context, collection, id string, data map[string]any) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	_, err = o.q.Exec(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`, collection, id, raw)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	return nil
}

func (o pgOps) delete(ctx context.Context, collection, id string) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	tag, err := o.q.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (o pgOps) deleteTree(ctx context.Context, collection, id string) (int, error) {
	if err := validate(collection, id); err != nil {
		return 0, err
	}
	tag, err := o.q.Exec(ctx, `
		DELETE FROM documents
		WHERE (collection = $1 AND id = $2) OR starts_with(collection, $3)`,
		collection, id, Path(collection, id)+"/")
	if err != nil {
		return 0, fmt.Errorf("delete tree %s/%s: %w", collection, id, err)
	}
	return int(tag.RowsAffected()), nil
}

func (o pgOps) arrayUnion(ctx context.Context, collection, id, field string, values []any) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	unique := make([]any, 0, len(values))
	for _, v := range values {
		nv, err := normalizeValue(v)
		if err != nil {
			return err
		}
		if !containsJSON(unique, nv) {
			unique = append(unique, nv)
		}
	}
	raw, err := json.Marshal(unique)
	if err != nil {
		return fmt.Errorf("encode array values: %w", err)
	}

	_, err = o.q.Exec(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::jsonb))
		ON CONFLICT (collection, id) DO UPDATE SET
			data = jsonb_set(
				documents.data,
				ARRAY[$3::text],
				COALESCE(documents.data->$3::text, '[]'::jsonb) || COALESCE((
					SELECT jsonb_agg(v)
					FROM jsonb_array_elements($4::jsonb) AS v
					WHERE NOT EXISTS (
						SELECT 1 FROM jsonb_array_elements(COALESCE(documents.data->$3::text, '[]'::jsonb)) AS e
						WHERE e = v
					)
				), '[]'::jsonb)
			),
			updated_at = now()`,
		collection, id, field, string(raw))
	if err != nil {
		return fmt.Errorf("array union %s/%s.%s: %w", collection, id, field, err)
	}
	return nil
}

func (o pgOps) increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	if err := validate(collection, id); err != nil {
		return 0, err
	}
	var n int64
	err := o.q.QueryRow(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::bigint))
		ON CONFLICT (collection, id) DO UPDATE SET
			data = jsonb_set(
				documents.data,
				ARRAY[$3::text],
				to_jsonb(COALESCE((documents.data->>$3::text)::bigint, 0) + $4::bigint)
			),
			updated_at = now()
		RETURNING (data->>$3::text)::bigint`,
		collection, id, field, delta).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
	}
	return n, nil
}

func marshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var (
		doc Document
		raw []byte
	)
	if err := row.Scan(&doc.Collection, &doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return nil, fmt.Errorf("decode document data: %w", err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return &doc, nil
}
