package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/mentosming/splitmate-migrate/internal/config"
	"github.com/mentosming/splitmate-migrate/internal/logger"
	"github.com/mentosming/splitmate-migrate/internal/store"
	"github.com/mentosming/splitmate-migrate/internal/store/postgres"
	"github.com/mentosming/splitmate-migrate/internal/store/postgrest"
)

// loadConfig reads the config file and environment, applies command line
// overrides, optionally prompts for missing keys and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg)

	if prompt {
		if err := promptForKeys(cfg, os.Stdin, os.Stderr); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if viper.IsSet("driver") {
		cfg.Driver = viper.GetString("driver")
	}
	if viper.IsSet("batch_size") {
		cfg.BatchSize = viper.GetInt("batch_size")
	}
	if viper.IsSet("dry_run") {
		cfg.DryRun = viper.GetBool("dry_run")
	}
	if viper.IsSet("skip_repair") {
		cfg.Repair.Skip = viper.GetBool("skip_repair")
	}
}

func onlyTables() []string {
	var out []string
	for _, name := range viper.GetStringSlice("only") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func newLogger() *slog.Logger {
	if debug {
		return logger.New(os.Stderr, "debug", os.Getenv("GO_ENV") == "production")
	}
	return logger.NewLogger()
}

func logWarnings(log *slog.Logger, cfg *config.Config) {
	for _, w := range cfg.Warnings() {
		log.Warn(w, logger.Scope("config"))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM so a run stops between
// tables and still prints its summary.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openStores connects both sides. In dry-run mode the target only logs writes.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (source, target store.Store, err error) {
	source, err = openStore(ctx, cfg, cfg.Source, log.With(slog.String("side", "source")))
	if err != nil {
		return nil, nil, fmt.Errorf("source: %w", err)
	}
	target, err = openStore(ctx, cfg, cfg.Target, log.With(slog.String("side", "target")))
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	if cfg.DryRun {
		target = store.NewDryRun(target, log)
	}
	return source, target, nil
}

func openStore(ctx context.Context, cfg *config.Config, ep config.Endpoint, log *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, ep.URL, cfg.OrderBy(), log)
	case config.DriverREST:
		return postgrest.New(postgrest.Config{
			BaseURL:           ep.URL,
			APIKey:            ep.Key,
			PageSize:          cfg.PageSize,
			Timeout:           cfg.Timeout,
			MaxAttempts:       cfg.Retry.MaxAttempts,
			RetryWait:         cfg.Retry.Wait,
			RetryMaxWait:      cfg.Retry.MaxWait,
			RequestsPerSecond: cfg.RateLimit,
			OrderBy:           cfg.OrderBy(),
		}, log)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// promptForKeys asks for service keys the config does not provide. It only
// works on a terminal since keys are read without echo.
func promptForKeys(cfg *config.Config, in *os.File, out io.Writer) error {
	if cfg.Driver != config.DriverREST {
		return nil
	}
	for _, side := range []struct {
		name string
		ep   *config.Endpoint
	}{
		{"source", &cfg.Source},
		{"target", &cfg.Target},
	} {
		if side.ep.Key != "" {
			continue
		}
		if !term.IsTerminal(int(in.Fd())) {
			return errors.New("--prompt needs an interactive terminal")
		}
		fmt.Fprintf(out, "%s service key for %s: ", side.name, postgrest.RedactURL(side.ep.URL))
		key, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("read %s key: %w", side.name, err)
		}
		side.ep.Key = strings.TrimSpace(string(key))
	}
	return nil
}
