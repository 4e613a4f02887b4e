package cli

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-history/internal/config"
	"github.com/aqasim81/migration-history/internal/database"
)

const version = "0.2.0"

// AppConfig holds the loaded configuration, set during PersistentPreRunE.
var AppConfig *config.Config //nolint:gochecknoglobals // standard Cobra pattern for shared config

// logger is the CLI's logger, set during PersistentPreRunE.
var logger hclog.Logger = hclog.NewNullLogger() //nolint:gochecknoglobals // shared by every command

// Session is a database connection owned by one command run.
type Session interface {
	database.Connection
	Close(ctx context.Context) error
}

// connect opens a session on the given branch. Tests replace it.
var connect = func(ctx context.Context, cfg *config.Config, branch string) (Session, error) { //nolint:gochecknoglobals,lll // swapped in tests
	if cfg.DatabaseURL == "" {
		return nil, errDatabaseURLRequired
	}

	logger.Debug("connecting", "url", config.RedactURL(cfg.DatabaseURL), "branch", branch)

	conn, err := database.Connect(ctx, cfg.DatabaseURL,
		database.WithBranch(branch),
		database.WithLogger(logger.Named("database")),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return conn, nil
}

// rootCmd is the base command. On its own it applies pending migrations.
var rootCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:     "migrate",
	Version: version,
	Short:   "Schema-first PostgreSQL migration history",
	Long: `migrate keeps a PostgreSQL database in step with a directory of
schema files through an ordered, content-addressed migration history.

Run without a subcommand it applies every migration the database has not
seen yet. With --dev-mode it also commits whatever schema changes the
server infers, without writing a migration file.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadConfig(cmd)
	},
	RunE: runMigrate,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	rootCmd.PersistentFlags().String("config", "migrate.yml", "path to configuration file")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	rootCmd.PersistentFlags().String("branch", "", "database branch to operate on")
	rootCmd.PersistentFlags().String("migrations-dir", "", "path to migration files")
	rootCmd.PersistentFlags().String("schema-dir", "", "path to schema files")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	registerMigrateFlags(rootCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return report(rootCmd.ErrOrStderr(), err)
	}

	return 0
}

// loadConfig loads configuration with precedence: flag > env > file.
func loadConfig(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	allowMissing := !cmd.Flags().Changed("config")

	cfg, err := config.Load(configPath, allowMissing)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := config.MergeEnv(cfg); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	mergeFlags(cmd, cfg)

	AppConfig = cfg
	logger = newLogger(cmd)

	return nil
}

// mergeFlags overrides config with explicitly-set CLI flags.
func mergeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("database-url") {
		cfg.DatabaseURL, _ = cmd.Flags().GetString("database-url")
	}

	if cmd.Flags().Changed("branch") {
		cfg.Branch, _ = cmd.Flags().GetString("branch")
	}

	if cmd.Flags().Changed("migrations-dir") {
		cfg.MigrationsDir, _ = cmd.Flags().GetString("migrations-dir")
	}

	if cmd.Flags().Changed("schema-dir") {
		cfg.SchemaDir, _ = cmd.Flags().GetString("schema-dir")
	}
}

func newLogger(cmd *cobra.Command) hclog.Logger {
	level := hclog.Info
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = hclog.Debug
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "migrate",
		Level:  level,
		Output: cmd.ErrOrStderr(),
		Color:  hclog.AutoColor,
	})
}
