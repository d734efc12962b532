package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mentosming/splitmate-migrate/internal/migrate"
	"github.com/mentosming/splitmate-migrate/internal/store"
	"github.com/mentosming/splitmate-migrate/internal/store/postgrest"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <email|user-id>",
	Short: "Show a user's profile, memberships and owned teams on both sides",
	Long: `Looks the user up by id when the argument is a UUID, otherwise by email,
in both the source and the target, and lists the teams they belong to and the
teams they administer. Useful for checking an identifier remap.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	for _, side := range []struct {
		label string
		url   string
		store store.Store
	}{
		{"source", cfg.Source.URL, source},
		{"target", cfg.Target.URL, target},
	} {
		ins, err := migrate.Inspect(ctx, side.store, args[0], cfg.Repair)
		if err != nil {
			return err
		}
		if err := printInspection(out, side.label+" "+postgrest.RedactURL(side.url), ins); err != nil {
			return err
		}
	}
	return nil
}
