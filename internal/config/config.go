// Package config loads settings from a YAML file, MIGRATE_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Default values for configuration fields.
const (
	DefaultMigrationsDir    = "./migrations"
	DefaultSchemaDir        = "./dbschema"
	DefaultLockTimeout      = 5 * time.Second
	DefaultStatementTimeout = 30 * time.Second
	DefaultWatchDebounce    = 300 * time.Millisecond
	DefaultTargetPGVersion  = 14
	DefaultFormat           = "text"
)

// EnvPrefix prefixes every environment variable read by MergeEnv.
const EnvPrefix = "MIGRATE"

// Config holds the application configuration.
type Config struct {
	DatabaseURL      string
	Branch           string
	MigrationsDir    string
	SchemaDir        string
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	WatchDebounce    time.Duration
	TargetPGVersion  int
	Format           string
}

// yamlConfig is the raw YAML file representation with string durations.
type yamlConfig struct {
	DatabaseURL      string `yaml:"database_url"`
	Branch           string `yaml:"branch"`
	MigrationsDir    string `yaml:"migrations_dir"`
	SchemaDir        string `yaml:"schema_dir"`
	LockTimeout      string `yaml:"lock_timeout"`
	StatementTimeout string `yaml:"statement_timeout"`
	WatchDebounce    string `yaml:"watch_debounce"`
	TargetPGVersion  int    `yaml:"target_pg_version"`
	Format           string `yaml:"format"`
}

// envConfig is the environment layer. Nil fields were not set.
type envConfig struct {
	DatabaseURL      *string        `envconfig:"DATABASE_URL"`
	Branch           *string        `envconfig:"BRANCH"`
	MigrationsDir    *string        `envconfig:"MIGRATIONS_DIR"`
	SchemaDir        *string        `envconfig:"SCHEMA_DIR"`
	LockTimeout      *time.Duration `envconfig:"LOCK_TIMEOUT"`
	StatementTimeout *time.Duration `envconfig:"STATEMENT_TIMEOUT"`
	WatchDebounce    *time.Duration `envconfig:"WATCH_DEBOUNCE"`
	TargetPGVersion  *int           `envconfig:"TARGET_PG_VERSION"`
}

// New returns a Config populated with default values.
func New() *Config {
	return &Config{
		MigrationsDir:    DefaultMigrationsDir,
		SchemaDir:        DefaultSchemaDir,
		LockTimeout:      DefaultLockTimeout,
		StatementTimeout: DefaultStatementTimeout,
		WatchDebounce:    DefaultWatchDebounce,
		TargetPGVersion:  DefaultTargetPGVersion,
		Format:           DefaultFormat,
	}
}

// Load reads a YAML configuration file and returns a Config.
// If allowMissing is true and the file does not exist, defaults are returned.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return New(), nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return fromYAML(&raw)
}

// fromYAML converts the raw YAML representation to a Config with defaults applied.
func fromYAML(raw *yamlConfig) (*Config, error) {
	cfg := New()

	setString(&cfg.DatabaseURL, raw.DatabaseURL)
	setString(&cfg.Branch, raw.Branch)
	setString(&cfg.MigrationsDir, raw.MigrationsDir)
	setString(&cfg.SchemaDir, raw.SchemaDir)
	setString(&cfg.Format, raw.Format)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"lock_timeout", raw.LockTimeout, &cfg.LockTimeout},
		{"statement_timeout", raw.StatementTimeout, &cfg.StatementTimeout},
		{"watch_debounce", raw.WatchDebounce, &cfg.WatchDebounce},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", d.key, d.raw, err)
		}

		*d.dst = v
	}

	if raw.TargetPGVersion != 0 {
		cfg.TargetPGVersion = raw.TargetPGVersion
	}

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// MergeEnv overrides config fields from MIGRATE_* environment variables.
// A malformed value is an error and leaves cfg unchanged.
func MergeEnv(cfg *Config) error {
	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	if env.DatabaseURL != nil {
		cfg.DatabaseURL = *env.DatabaseURL
	}

	if env.Branch != nil {
		cfg.Branch = *env.Branch
	}

	if env.MigrationsDir != nil {
		cfg.MigrationsDir = *env.MigrationsDir
	}

	if env.SchemaDir != nil {
		cfg.SchemaDir = *env.SchemaDir
	}

	if env.LockTimeout != nil {
		cfg.LockTimeout = *env.LockTimeout
	}

	if env.StatementTimeout != nil {
		cfg.StatementTimeout = *env.StatementTimeout
	}

	if env.WatchDebounce != nil {
		cfg.WatchDebounce = *env.WatchDebounce
	}

	if env.TargetPGVersion != nil {
		cfg.TargetPGVersion = *env.TargetPGVersion
	}

	return nil
}
