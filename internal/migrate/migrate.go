// Package migrate copies tables from a source store to a target store and
// repairs team admin memberships afterwards.
package migrate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mentosming/splitmate-migrate/internal/config"
	"github.com/mentosming/splitmate-migrate/internal/logger"
	"github.com/mentosming/splitmate-migrate/internal/remap"
	"github.com/mentosming/splitmate-migrate/internal/store"
)

// Options narrow or adjust a run beyond what the config file says.
type Options struct {
	// Only restricts the run to these tables, in configured order.
	Only []string
	// SkipRepair disables the membership pass.
	SkipRepair bool
	// DryRun is recorded in the report. Writes are suppressed by wrapping
	// the target in store.DryRun, not here.
	DryRun bool
}

// Migrator drives one run: tables in order, then the repair pass.
type Migrator struct {
	source store.Store
	target store.Store

	tables     []config.Table
	idMap      remap.Map
	batchSize  int
	repair     config.Repair
	skipRepair bool
	dryRun     bool

	log *slog.Logger
}

// New builds a migrator. cfg is expected to be validated already.
func New(cfg *config.Config, source, target store.Store, opts Options, log *slog.Logger) (*Migrator, error) {
	tables, err := cfg.Select(opts.Only)
	if err != nil {
		return nil, err
	}
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = config.DefaultBatchSize
	}
	return &Migrator{
		source:     source,
		target:     target,
		tables:     tables,
		idMap:      cfg.IDMap,
		batchSize:  batchSize,
		repair:     cfg.Repair,
		skipRepair: opts.SkipRepair || cfg.Repair.Skip,
		dryRun:     opts.DryRun || cfg.DryRun,
		log:        log.With(logger.Scope("migrate")),
	}, nil
}

// Run copies every selected table and then repairs memberships. Table
// failures are recorded in the report and do not stop the run; the returned
// error is only set when ctx is cancelled, in which case the report covers
// the tables processed so far.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{DryRun: m.dryRun}
	defer func() { report.Duration = time.Since(start) }()

	m.log.Info("starting migration",
		slog.Int("tables", len(m.tables)),
		slog.Int("batch_size", m.batchSize),
		slog.Int("id_map", len(m.idMap)),
		slog.Bool("dry_run", m.dryRun),
	)

	for _, t := range m.tables {
		if err := ctx.Err(); err != nil {
			m.log.Warn("migration interrupted", slog.String("next_table", t.Name), logger.Error(err))
			return report, err
		}
		report.Tables = append(report.Tables, m.copyTable(ctx, t))
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	if m.skipRepair {
		m.log.Info("membership repair skipped")
	} else {
		res, err := m.Repair(ctx)
		report.Repair = &res
		if err != nil {
			return report, err
		}
	}

	m.log.Info("migration finished",
		slog.Int("rows", report.Rows()),
		slog.Any("failed_tables", report.FailedTables()),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (m *Migrator) copyTable(ctx context.Context, t config.Table) (res TableResult) {
	start := time.Now()
	res.Table = t.Name
	log := m.log.With(slog.String("table", t.Name))
	defer func() { res.Duration = time.Since(start) }()

	log.Info("copying table", slog.Any("keys", t.KeyColumns))

	rows, err := m.source.Fetch(ctx, t.Name)
	if err != nil {
		res.Err = err
		log.Error("fetch failed, skipping table", logger.Error(err))
		return res
	}
	res.Fetched = len(rows)

	rows, res.Remapped = remap.Records(rows, m.idMap)
	if res.Remapped > 0 {
		log.Info("remapped identifiers", slog.Int("values", res.Remapped))
	}

	opts := store.UpsertOptions{OnConflict: t.KeyColumns}
	for i, batch := range Partition(rows, m.batchSize) {
		if err := m.target.Upsert(ctx, t.Name, batch, opts); err != nil {
			res.Err = batchError(t.Name, i, len(batch), err)
			log.Error("batch failed, skipping rest of table",
				slog.Int("batch", i),
				slog.Int("written", res.Written),
				logger.Error(err),
			)
			return res
		}
		res.Batches++
		res.Written += len(batch)
		log.Debug("wrote batch", slog.Int("batch", i), slog.Int("rows", len(batch)))
	}

	log.Info("table copied",
		slog.Int("rows", res.Written),
		slog.Int("batches", res.Batches),
		slog.Duration("duration", time.Since(start)),
	)
	return res
}

// batchError stamps the batch position onto a write error.
func batchError(table string, batch, rows int, err error) error {
	var we *store.RemoteWriteError
	if errors.As(err, &we) {
		stamped := *we
		stamped.Table = table
		stamped.Batch = batch
		stamped.Rows = rows
		return &stamped
	}
	return &store.RemoteWriteError{Table: table, Batch: batch, Rows: rows, Err: err}
}

// Verify compares exact row counts of every selected table.
func (m *Migrator) Verify(ctx context.Context) ([]CountResult, error) {
	out := make([]CountResult, 0, len(m.tables))
	for _, t := range m.tables {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := CountResult{Table: t.Name}
		res.Source, res.SourceErr = m.source.Count(ctx, t.Name)
		res.Target, res.TargetErr = m.target.Count(ctx, t.Name)
		if !res.Match() {
			m.log.Warn("row count mismatch",
				slog.String("table", t.Name),
				slog.Int64("source", res.Source),
				slog.Int64("target", res.Target),
			)
		}
		out = append(out, res)
	}
	return out, nil
}

// CountResult holds the row counts of one table on both sides.
type CountResult struct {
	Table     string
	Source    int64
	Target    int64
	SourceErr error
	TargetErr error
}

// Match reports whether both counts were read and are equal.
func (c CountResult) Match() bool {
	return c.SourceErr == nil && c.TargetErr == nil && c.Source == c.Target
}
