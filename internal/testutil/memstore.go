// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mentosming/splitmate-migrate/internal/store"
)

// MemStore is an in-memory store.Store. Rows are kept per table in insertion
// order and upserts merge on the requested conflict columns ("id" by default).
type MemStore struct {
	mu     sync.Mutex
	tables map[string][]store.Record

	// FetchErr and UpsertErr force failures per table.
	FetchErr  map[string]error
	UpsertErr map[string]error
	// FailUpsertAfter makes the n-th (1-based) upsert call to a table fail.
	FailUpsertAfter map[string]int

	// Calls records every operation as "fetch:table" or "upsert:table:n".
	Calls []string

	upserts map[string]int
}

var _ store.Store = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		tables:          make(map[string][]store.Record),
		FetchErr:        make(map[string]error),
		UpsertErr:       make(map[string]error),
		FailUpsertAfter: make(map[string]int),
		upserts:         make(map[string]int),
	}
}

// Seed replaces the contents of table.
func (m *MemStore) Seed(table string, rows ...store.Record) *MemStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = cloneRows(rows)
	return m
}

// Rows returns a copy of the rows of table.
func (m *MemStore) Rows(table string) []store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.tables[table])
}

func (m *MemStore) Fetch(_ context.Context, table string, filters ...store.Filter) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "fetch:"+table)

	if err := m.FetchErr[table]; err != nil {
		return nil, &store.RemoteReadError{Table: table, Status: 500, Err: err}
	}

	var out []store.Record
	for _, row := range m.tables[table] {
		if matches(row, filters) {
			out = append(out, row)
		}
	}
	return cloneRows(out), nil
}

func (m *MemStore) Upsert(_ context.Context, table string, rows []store.Record, opts store.UpsertOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts[table]++
	m.Calls = append(m.Calls, fmt.Sprintf("upsert:%s:%d", table, len(rows)))

	if err := m.UpsertErr[table]; err != nil {
		return &store.RemoteWriteError{Table: table, Batch: -1, Rows: len(rows), Status: 409, Err: err}
	}
	if n := m.FailUpsertAfter[table]; n > 0 && m.upserts[table] == n {
		return &store.RemoteWriteError{Table: table, Batch: -1, Rows: len(rows), Status: 503, Err: fmt.Errorf("upsert %d rejected", n)}
	}

	keys := opts.KeyColumns("id")
	for _, row := range cloneRows(rows) {
		k := keyOf(row, keys)
		replaced := false
		for i, existing := range m.tables[table] {
			if keyOf(existing, keys) == k {
				merged := existing
				for col, v := range row {
					merged[col] = v
				}
				m.tables[table][i] = merged
				replaced = true
				break
			}
		}
		if !replaced {
			m.tables[table] = append(m.tables[table], row)
		}
	}
	return nil
}

func (m *MemStore) Count(_ context.Context, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FetchErr[table]; err != nil {
		return 0, &store.RemoteReadError{Table: table, Err: err}
	}
	return int64(len(m.tables[table])), nil
}

func (m *MemStore) Close() {}

// CallsFor returns the recorded calls that mention table.
func (m *MemStore) CallsFor(table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.Calls {
		parts := strings.SplitN(c, ":", 3)
		if len(parts) >= 2 && parts[1] == table {
			out = append(out, c)
		}
	}
	return out
}

func matches(row store.Record, filters []store.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.Column]) != f.Value {
			return false
		}
	}
	return true
}

func keyOf(row store.Record, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(row[c])
	}
	return strings.Join(parts, "\x00")
}

// cloneRows deep-copies rows through JSON so callers never share maps.
func cloneRows(rows []store.Record) []store.Record {
	if rows == nil {
		return nil
	}
	b, err := json.Marshal(rows)
	if err != nil {
		panic(err)
	}
	var out []store.Record
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}
