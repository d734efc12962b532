package store

import (
	"context"
	"log/slog"

	"github.com/mentosming/splitmate-migrate/internal/logger"
)

// DryRun wraps a store so reads go through and writes are only logged.
type DryRun struct {
	Store
	log *slog.Logger
}

// NewDryRun wraps s.
func NewDryRun(s Store, log *slog.Logger) *DryRun {
	return &DryRun{Store: s, log: log.With(logger.Scope("dry-run"))}
}

// Upsert logs the write it would have made.
func (d *DryRun) Upsert(ctx context.Context, table string, rows []Record, opts UpsertOptions) error {
	d.log.Info("would upsert",
		slog.String("table", table),
		slog.Int("rows", len(rows)),
		slog.Any("on_conflict", opts.OnConflict),
	)
	return nil
}
