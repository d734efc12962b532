// Package config loads the migration settings: a YAML file for the table
// list, identifier map and tuning, and environment variables for endpoints
// and credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mentosming/splitmate-migrate/internal/remap"
)

// Store drivers.
const (
	// DriverREST talks to the Supabase REST API (PostgREST).
	DriverREST = "rest"
	// DriverPostgres connects to the database directly.
	DriverPostgres = "postgres"
)

const (
	// DefaultPath is the config file read when --config is not given.
	DefaultPath = "migrate.yaml"
	// DefaultBatchSize is the number of rows per upsert.
	DefaultBatchSize = 50
	// DefaultPageSize is the number of rows requested per read.
	DefaultPageSize = 1000
)

// Config holds everything a run needs.
type Config struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER"`

	Source Endpoint `yaml:"source" envPrefix:"SOURCE_"`
	Target Endpoint `yaml:"target" envPrefix:"TARGET_"`

	BatchSize int           `yaml:"batch_size" env:"BATCH_SIZE"`
	PageSize  int           `yaml:"page_size" env:"PAGE_SIZE"`
	DryRun    bool          `yaml:"dry_run" env:"DRY_RUN"`
	Timeout   time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT"`
	// RateLimit caps requests per second per endpoint; 0 disables pacing.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`

	Tables []Table     `yaml:"tables"`
	IDMap  remap.Map   `yaml:"id_map"`
	Retry  RetryConfig `yaml:"retry"`
	Repair Repair      `yaml:"repair"`
}

// Endpoint is one side of the migration. For the rest driver URL is the
// project URL and Key the service role key; for postgres URL is a DSN.
type Endpoint struct {
	URL string `yaml:"url" env:"URL"`
	Key string `yaml:"key" env:"KEY"`
}

// Table is one entry of the ordered table list.
type Table struct {
	Name string `yaml:"name"`
	// KeyColumns is the conflict target for upserts and the paging order.
	KeyColumns []string `yaml:"key_columns"`
	// DependsOn names tables that must be copied earlier in the list.
	DependsOn []string `yaml:"depends_on"`
}

// RetryConfig bounds retries of transient REST failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	Wait        time.Duration `yaml:"wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// Repair configures the team admin membership pass.
type Repair struct {
	Skip         bool   `yaml:"skip" env:"SKIP_REPAIR"`
	TeamsTable   string `yaml:"teams_table"`
	MembersTable string `yaml:"members_table"`
	AdminColumn  string `yaml:"admin_column"`
	TeamColumn   string `yaml:"team_column"`
	UserColumn   string `yaml:"user_column"`
	StatusColumn string `yaml:"status_column"`
	AdminStatus  string `yaml:"admin_status"`
	// Admins limits the pass to these admin ids when non-empty.
	Admins []string `yaml:"admins"`
}

// Defaults returns the built-in configuration: the six application tables
// in foreign key order and an empty identifier map.
func Defaults() *Config {
	return &Config{
		Driver:    DriverREST,
		BatchSize: DefaultBatchSize,
		PageSize:  DefaultPageSize,
		Timeout:   30 * time.Second,
		Tables: []Table{
			{Name: "profiles", KeyColumns: []string{"id"}},
			{Name: "teams", KeyColumns: []string{"id"}, DependsOn: []string{"profiles"}},
			{Name: "participants", KeyColumns: []string{"id"}, DependsOn: []string{"teams"}},
			{Name: "team_members", KeyColumns: []string{"team_id", "user_id"}, DependsOn: []string{"teams", "profiles"}},
			{Name: "transactions", KeyColumns: []string{"id"}, DependsOn: []string{"teams", "participants"}},
			{Name: "transaction_splits", KeyColumns: []string{"id"}, DependsOn: []string{"transactions", "participants"}},
		},
		IDMap: remap.Map{},
		Retry: RetryConfig{
			MaxAttempts: 1,
			Wait:        500 * time.Millisecond,
			MaxWait:     5 * time.Second,
		},
		Repair: Repair{
			TeamsTable:   "teams",
			MembersTable: "team_members",
			AdminColumn:  "admin_id",
			TeamColumn:   "team_id",
			UserColumn:   "user_id",
			StatusColumn: "status",
			AdminStatus:  "admin",
		},
	}
}

// LoadDotEnv loads .env and then .env.local, the latter taking precedence.
// Missing files are ignored.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")
}

// Load starts from Defaults, applies the YAML file at path if it exists and
// then environment variables. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.fillTableDefaults()
	return cfg, nil
}

func (c *Config) fillTableDefaults() {
	for i := range c.Tables {
		if len(c.Tables[i].KeyColumns) == 0 {
			c.Tables[i].KeyColumns = []string{"id"}
		}
	}
	if c.IDMap == nil {
		c.IDMap = remap.Map{}
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Driver {
	case DriverREST, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("driver %q: must be %q or %q", c.Driver, DriverREST, DriverPostgres))
	}
	errs = append(errs, c.Source.validate("source", c.Driver)...)
	errs = append(errs, c.Target.validate("target", c.Driver)...)
	if c.Source.URL != "" && c.Source.URL == c.Target.URL {
		errs = append(errs, errors.New("source and target url are identical"))
	}

	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size %d: must be at least 1", c.BatchSize))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page_size %d: must be at least 1", c.PageSize))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit %v: must not be negative", c.RateLimit))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts %d: must be at least 1", c.Retry.MaxAttempts))
	}

	errs = append(errs, validateTables(c.Tables)...)

	if err := c.IDMap.Validate(); err != nil {
		errs = append(errs, err)
	}

	if !c.Repair.Skip {
		for name, v := range map[string]string{
			"teams_table":   c.Repair.TeamsTable,
			"members_table": c.Repair.MembersTable,
			"admin_column":  c.Repair.AdminColumn,
			"team_column":   c.Repair.TeamColumn,
			"user_column":   c.Repair.UserColumn,
			"status_column": c.Repair.StatusColumn,
			"admin_status":  c.Repair.AdminStatus,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("repair.%s: required", name))
			}
		}
	}

	return errors.Join(errs...)
}

func (e Endpoint) validate(side, driver string) []error {
	var errs []error
	if e.URL == "" {
		errs = append(errs, fmt.Errorf("%s url: required (set %s_URL)", side, strings.ToUpper(side)))
	}
	if driver == DriverREST && e.Key == "" {
		errs = append(errs, fmt.Errorf("%s key: required (set %s_KEY)", side, strings.ToUpper(side)))
	}
	return errs
}

func validateTables(tables []Table) []error {
	var errs []error
	if len(tables) == 0 {
		return []error{errors.New("tables: at least one table is required")}
	}
	pos := make(map[string]int, len(tables))
	for i, t := range tables {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tables[%d].name: required", i))
			continue
		}
		if _, dup := pos[t.Name]; dup {
			errs = append(errs, fmt.Errorf("tables[%d]: %s listed twice", i, t.Name))
			continue
		}
		pos[t.Name] = i
	}
	for i, t := range tables {
		for _, dep := range t.DependsOn {
			j, ok := pos[dep]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("tables[%d] %s: depends on unknown table %s", i, t.Name, dep))
			case j >= i:
				errs = append(errs, fmt.Errorf("tables[%d] %s: depends on %s which is listed later", i, t.Name, dep))
			}
		}
	}
	return errs
}

// Select returns the configured tables whose names are in only, keeping the
// configured order. An empty only selects every table.
func (c *Config) Select(only []string) ([]Table, error) {
	if len(only) == 0 {
		return c.Tables, nil
	}
	want := make(map[string]bool, len(only))
	for _, name := range only {
		want[name] = true
	}
	var out []Table
	for _, t := range c.Tables {
		if want[t.Name] {
			out = append(out, t)
			delete(want, t.Name)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for _, name := range only {
			if want[name] {
				unknown = append(unknown, name)
			}
		}
		return nil, fmt.Errorf("unknown tables: %v", unknown)
	}
	return out, nil
}

// OrderBy maps each table to its key columns.
func (c *Config) OrderBy() map[string][]string {
	out := make(map[string][]string, len(c.Tables)+1)
	for _, t := range c.Tables {
		out[t.Name] = t.KeyColumns
	}
	if _, ok := out[c.Repair.MembersTable]; !ok && c.Repair.MembersTable != "" {
		out[c.Repair.MembersTable] = []string{c.Repair.TeamColumn, c.Repair.UserColumn}
	}
	return out
}

// Warnings lists non-fatal oddities worth logging, such as identifier map
// entries that are not UUIDs or repair admins given by their old id.
func (c *Config) Warnings() []string {
	var out []string
	keys := make([]string, 0, len(c.IDMap))
	for k := range c.IDMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c.IDMap[k]
		if _, err := uuid.Parse(k); err != nil {
			out = append(out, fmt.Sprintf("id_map key %q is not a UUID", k))
		}
		if _, err := uuid.Parse(v); err != nil {
			out = append(out, fmt.Sprintf("id_map value %q is not a UUID", v))
		}
	}
	for _, k := range c.IDMap.Chained() {
		out = append(out, fmt.Sprintf("id_map value %q for %q is also a key; the map is applied once, not transitively", c.IDMap[k], k))
	}
	if c.BatchSize > c.PageSize {
		out = append(out, fmt.Sprintf("batch_size %d exceeds page_size %d", c.BatchSize, c.PageSize))
	}
	if !c.Repair.Skip {
		for _, a := range c.Repair.Admins {
			if v, ok := c.IDMap[a]; ok {
				out = append(out, fmt.Sprintf("repair.admins entry %q is an old id; the target holds %q", a, v))
			}
		}
	}
	return out
}
