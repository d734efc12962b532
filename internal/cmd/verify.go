package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentosming/splitmate-migrate/internal/migrate"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare exact row counts between source and target",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	ctx, stop := signalContext(cmd)
	defer stop()

	source, target, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer source.Close()
	defer target.Close()

	m, err := migrate.New(cfg, source, target, migrate.Options{Only: onlyTables()}, log)
	if err != nil {
		return err
	}
	counts, err := m.Verify(ctx)
	if perr := printCounts(cmd.OutOrStdout(), counts); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}

	mismatched := 0
	for _, c := range counts {
		if !c.Match() {
			mismatched++
		}
	}
	if mismatched > 0 {
		return fmt.Errorf("%d of %d tables differ", mismatched, len(counts))
	}
	return nil
}
