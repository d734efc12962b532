package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentosming/splitmate-migrate/internal/migrate"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Only ensure every team admin is an admin member of the team",
	Long: `Reads all teams from the target and upserts a membership row with the admin
status for each team admin. Safe to run any number of times.`,
	Args: cobra.NoArgs,
	RunE: runRepair,
}

func runRepair(cmd *cobra.Command, args []string) error {
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

	m, err := migrate.New(cfg, source, target, migrate.Options{DryRun: cfg.DryRun}, log)
	if err != nil {
		return err
	}
	res, err := m.Repair(ctx)
	if perr := printRepair(cmd.OutOrStdout(), res); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("repair interrupted: %w", err)
	}
	if res.Failed() {
		return fmt.Errorf("repair finished with %d errors", len(res.Errors))
	}
	return nil
}
