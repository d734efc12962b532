package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mentosming/splitmate-migrate/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	Aliases: []string{"run"},
	Short:   "Copy all configured tables, then repair admin memberships",
	Long: `Copies every configured table from the source to the target in order,
upserting in batches, then ensures every team admin is a member with the admin
status. A table that fails is reported and skipped; the others still run.
The exit status is non-zero when any table or the repair failed.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	logWarnings(log, cfg)

	ctx, stop := signalContext(cmd)
	defer stop()

	source, target, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer source.Close()
	defer target.Close()

	m, err := migrate.New(cfg, source, target, migrate.Options{Only: onlyTables(), DryRun: cfg.DryRun}, log)
	if err != nil {
		return err
	}

	report, runErr := m.Run(ctx)
	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("migration interrupted: %w", runErr)
	}
	if report.Failed() {
		return failureError(report)
	}
	return nil
}

func failureError(report *migrate.Report) error {
	var parts []string
	if tables := report.FailedTables(); len(tables) > 0 {
		parts = append(parts, "tables "+strings.Join(tables, ", "))
	}
	if report.Repair != nil && report.Repair.Failed() {
		parts = append(parts, fmt.Sprintf("%d repair errors", len(report.Repair.Errors)))
	}
	return fmt.Errorf("migration finished with failures: %s", strings.Join(parts, "; "))
}
