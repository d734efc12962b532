// Package store defines the tabular read/write contract the migrator runs
// against, and the errors its adapters return.
package store

import (
	"context"
	"fmt"
)

// Record is one row as decoded from JSON.
type Record = map[string]any

// Filter restricts a fetch to rows where Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// UpsertOptions control conflict handling for a write.
type UpsertOptions struct {
	// OnConflict lists the unique columns rows are merged on. Empty means
	// the table's primary key.
	OnConflict []string
}

// Store is a hosted database reachable one table at a time.
type Store interface {
	// Fetch returns every row of table, all columns, optionally filtered.
	Fetch(ctx context.Context, table string, filters ...Filter) ([]Record, error)
	// Upsert inserts rows, overwriting rows that collide on the conflict key.
	Upsert(ctx context.Context, table string, rows []Record, opts UpsertOptions) error
	// Count returns the exact number of rows in table.
	Count(ctx context.Context, table string) (int64, error)
	// Close releases connections held by the store.
	Close()
}

// RemoteReadError is returned when a table cannot be read from a store.
type RemoteReadError struct {
	Table  string
	Status int // HTTP status when the failure came from a response, else 0
	Err    error
}

func (e *RemoteReadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("read %s: status %d: %v", e.Table, e.Status, e.Err)
	}
	return fmt.Sprintf("read %s: %v", e.Table, e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// RemoteWriteError is returned when an upsert batch is rejected.
type RemoteWriteError struct {
	Table  string
	Batch  int // zero-based batch index, -1 for single-row writes
	Rows   int
	Status int
	Err    error
}

func (e *RemoteWriteError) Error() string {
	where := e.Table
	if e.Batch >= 0 {
		where = fmt.Sprintf("%s batch %d (%d rows)", e.Table, e.Batch, e.Rows)
	}
	if e.Status != 0 {
		return fmt.Sprintf("write %s: status %d: %v", where, e.Status, e.Err)
	}
	return fmt.Sprintf("write %s: %v", where, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// KeyColumns returns opts.OnConflict, or fallback when none were given.
func (o UpsertOptions) KeyColumns(fallback ...string) []string {
	if len(o.OnConflict) > 0 {
		return o.OnConflict
	}
	return fallback
}
