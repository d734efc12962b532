// Package postgres implements store.Store over a direct Postgres connection,
// for projects where the database port is reachable and the REST layer is
// not wanted. Rows travel as JSON so they look exactly like REST rows.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentosming/splitmate-migrate/internal/logger"
	"github.com/mentosming/splitmate-migrate/internal/store"
)

// Store is a pgx pool behind the store.Store contract.
type Store struct {
	pool    *pgxpool.Pool
	orderBy map[string][]string
	log     *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string, orderBy map[string][]string, log *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{
		pool:    pool,
		orderBy: orderBy,
		log:     log.With(logger.Scope("postgres"), slog.String("database", pool.Config().ConnConfig.Database)),
	}, nil
}

// Fetch reads every row of table as JSON objects.
func (s *Store) Fetch(ctx context.Context, table string, filters ...store.Filter) ([]store.Record, error) {
	q, args := buildSelectSQL(table, s.keyColumns(table), filters)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, &store.RemoteReadError{Table: table, Err: describe(err)}
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, &store.RemoteReadError{Table: table, Err: err}
		}
		var rec store.Record
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, &store.RemoteReadError{Table: table, Err: fmt.Errorf("decode row: %w", err)}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.RemoteReadError{Table: table, Err: describe(err)}
	}
	s.log.Debug("fetched rows", slog.String("table", table), slog.Int("rows", len(out)))
	return out, nil
}

// Upsert writes rows in one statement, updating every non-key column on conflict.
func (s *Store) Upsert(ctx context.Context, table string, rows []store.Record, opts store.UpsertOptions) error {
	if len(rows) == 0 {
		return nil
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return &store.RemoteWriteError{Table: table, Batch: -1, Rows: len(rows), Err: fmt.Errorf("encode rows: %w", err)}
	}

	q := buildUpsertSQL(table, columnsOf(rows), opts.KeyColumns(s.keyColumns(table)...))
	ct, err := s.pool.Exec(ctx, q, string(payload))
	if err != nil {
		return &store.RemoteWriteError{Table: table, Batch: -1, Rows: len(rows), Err: describe(err)}
	}
	s.log.Debug("upserted rows", slog.String("table", table), slog.Int64("affected", ct.RowsAffected()))
	return nil
}

// Count runs SELECT count(*).
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+qualified(table)).Scan(&n); err != nil {
		return 0, &store.RemoteReadError{Table: table, Err: describe(err)}
	}
	return n, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) keyColumns(table string) []string {
	if cols := s.orderBy[table]; len(cols) > 0 {
		return cols
	}
	return []string{"id"}
}

func buildSelectSQL(table string, order []string, filters []store.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	for i, f := range filters {
		where = append(where, fmt.Sprintf("t.%s::text = $%d", pq(f.Column), i+1))
		args = append(args, f.Value)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT row_to_json(t) FROM %s t", qualified(table))
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if len(order) > 0 {
		cols := make([]string, len(order))
		for i, c := range order {
			cols[i] = "t." + pq(c)
		}
		b.WriteString(" ORDER BY " + strings.Join(cols, ", "))
	}
	return b.String(), args
}

// buildUpsertSQL expands a JSON array parameter into typed rows with
// jsonb_populate_recordset and merges them on keyCols.
func buildUpsertSQL(table string, cols, keyCols []string) string {
	keys := make(map[string]struct{}, len(keyCols))
	for _, k := range keyCols {
		keys[k] = struct{}{}
	}

	var updates []string
	for _, c := range cols {
		if _, isKey := keys[c]; isKey {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", pq(c), pq(c)))
	}

	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	colList := strings.Join(quoteCols(cols), ", ")
	return fmt.Sprintf(
		`INSERT INTO %s (%s) SELECT %s FROM jsonb_populate_recordset(NULL::%s, $1::jsonb) ON CONFLICT (%s) %s`,
		qualified(table), colList, colList, qualified(table),
		strings.Join(quoteCols(keyCols), ", "), action,
	)
}

func columnsOf(rows []store.Record) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// splitTable defaults unqualified names to the public schema.
func splitTable(full string) (schema, name string) {
	parts := strings.SplitN(full, ".", 2)
	if len(parts) == 1 {
		return "public", parts[0]
	}
	return parts[0], parts[1]
}

func qualified(table string) string {
	schema, name := splitTable(table)
	return pgx.Identifier{schema, name}.Sanitize()
}

func pq(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func quoteCols(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pq(c)
	}
	return out
}

// describe folds the SQLSTATE and detail of server errors into the message.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := fmt.Sprintf("%s: %s", pgErr.Code, pgErr.Message)
		if pgErr.Detail != "" {
			msg += " (" + pgErr.Detail + ")"
		}
		return fmt.Errorf("%s: %w", msg, err)
	}
	return err
}
