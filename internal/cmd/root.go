package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mentosming/splitmate-migrate/internal/config"
)

var (
	cfgFile    string
	debug      bool
	driver     string
	batchSize  int
	dryRun     bool
	only       []string
	skipRepair bool
	prompt     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "splitmate-migrate",
	Short: "Copy SplitMate tables between Supabase projects",
	Long: `Copies every row of the application tables from a source Supabase project
to a target project, rewriting known identifiers on the way, then makes sure
every team admin is recorded as an admin member of their team.

Endpoints and keys come from SOURCE_URL, SOURCE_KEY, TARGET_URL and TARGET_KEY
(a .env or .env.local file in the working directory is read first). The table
list, identifier map and tuning live in migrate.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// NewRootCommand returns the root command.
func NewRootCommand() *cobra.Command {
	return rootCmd
}

// Execute runs the command line. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(config.LoadDotEnv)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", config.DefaultPath, "config file")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.StringVar(&driver, "driver", "", "store driver: rest or postgres (default from config)")
	flags.IntVar(&batchSize, "batch-size", config.DefaultBatchSize, "rows per upsert request")
	flags.BoolVar(&dryRun, "dry-run", false, "read everything, write nothing")
	flags.StringSliceVar(&only, "only", nil, "copy only these tables (comma separated)")
	flags.BoolVar(&skipRepair, "skip-repair", false, "do not run the admin membership repair")
	flags.BoolVar(&prompt, "prompt", false, "prompt for missing service keys")

	// Flags override the config file and environment only when given.
	viper.BindPFlag("driver", flags.Lookup("driver"))
	viper.BindPFlag("batch_size", flags.Lookup("batch-size"))
	viper.BindPFlag("dry_run", flags.Lookup("dry-run"))
	viper.BindPFlag("only", flags.Lookup("only"))
	viper.BindPFlag("skip_repair", flags.Lookup("skip-repair"))

	rootCmd.AddCommand(migrateCmd, repairCmd, verifyCmd, inspectCmd)
}
