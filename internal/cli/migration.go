package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/status"
	"github.com/aqasim81/migration-history/internal/syncer"
	"github.com/aqasim81/migration-history/internal/tracker"
)

var migrationCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "migration",
	Short: "Inspect and extend the migration history",
}

var migrationStatusCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "status",
	Short: "Show how the database relates to the migrations and schema",
	Long: `Compare the database with the migrations directory and, when every
migration is applied, with the schema directory.

Exit codes:
  0  the database is up to date
  2  the schema has changes no migration captures yet
  3  the database has not applied every migration`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var migrationCreateCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "create",
	Short: "Capture schema changes in a new migration file",
	Long: `Ask the server for the DDL that turns the database schema into the
schema directory and write it as the next migration. In interactive mode
every proposed change is confirmed first.

Exits with 4 when there is nothing to capture.`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var migrationLogCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "log",
	Short: "List migrations in history order",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

var migrationFixupCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "fixup",
	Short: "Recompute migration ids after manual edits",
	Long: `Recompute the id of every migration file from its parent and content
and rewrite the files whose id changed, along with their descendants.`,
	Args: cobra.NoArgs,
	RunE: runFixup,
}

var migrationApplyCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "apply",
	Short: "Apply pending migrations (same as running migrate)",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	migrationStatusCmd.Flags().Bool("quiet", false, "only set the exit code")

	migrationCreateCmd.Flags().Bool("non-interactive", false, "accept every change the server can infer")
	migrationCreateCmd.Flags().Bool("allow-empty", false, "write a migration even without changes")

	migrationLogCmd.Flags().Bool("from-fs", false, "read migrations from the migrations directory (default)")
	migrationLogCmd.Flags().Bool("from-db", false, "read migrations from the database")
	migrationLogCmd.Flags().Bool("newest-first", false, "list the latest migration first")
	migrationLogCmd.Flags().Int("limit", 0, "show at most this many migrations")

	registerMigrateFlags(migrationApplyCmd)

	migrationCmd.AddCommand(migrationStatusCmd, migrationCreateCmd, migrationLogCmd, migrationFixupCmd, migrationApplyCmd)
	rootCmd.AddCommand(migrationCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	quiet, _ := cmd.Flags().GetBool("quiet")

	target, err := loadTarget(cfg.SchemaDir)
	if err != nil {
		return err
	}

	return withSession(cmd, cfg.Branch, func(ctx context.Context, sess Session) error {
		report, err := newEngine(sess).CheckStatus(ctx, target)
		if err != nil {
			return err
		}

		if !quiet {
			status.Render(cmd.OutOrStdout(), report)
		}

		if code := status.ExitCode(report); code != status.ExitUpToDate {
			return &ExitError{Code: code}
		}

		return nil
	})
}

func runCreate(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig

	nonInteractive, _ := cmd.Flags().GetBool("non-interactive")
	allowEmpty, _ := cmd.Flags().GetBool("allow-empty")

	target, err := loadTarget(cfg.SchemaDir)
	if err != nil {
		return err
	}

	return withSession(cmd, cfg.Branch, func(ctx context.Context, sess Session) error {
		res, err := newEngine(sess).CreateMigration(ctx, target, syncer.CreateOptions{
			NonInteractive: nonInteractive,
			AllowEmpty:     allowEmpty,
			Prompter:       newTerminalPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created %s, id: %s\n", res.File.Path, res.File.ID)

		return nil
	})
}

func runLog(cmd *cobra.Command, _ []string) error {
	fromDB, _ := cmd.Flags().GetBool("from-db")
	fromFS, _ := cmd.Flags().GetBool("from-fs")
	newestFirst, _ := cmd.Flags().GetBool("newest-first")
	limit, _ := cmd.Flags().GetInt("limit")

	if fromDB && fromFS {
		return errors.New("--from-db and --from-fs cannot be combined")
	}

	if limit < 0 {
		return fmt.Errorf("--limit must not be negative, got %d", limit)
	}

	var ids []string

	if fromDB {
		err := withSession(cmd, AppConfig.Branch, func(ctx context.Context, sess Session) error {
			history, err := tracker.New(sess).History(ctx)
			if err != nil {
				return err
			}

			ids = history.Keys()

			return nil
		})
		if err != nil {
			return err
		}
	} else {
		seq, err := migration.ReadAll(AppConfig.MigrationsDir, false)
		if err != nil {
			return fmt.Errorf("loading migrations: %w", err)
		}

		ids = seq.Keys()
	}

	for _, id := range selectLog(ids, newestFirst, limit) {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}

	return nil
}

// selectLog orders ids and cuts them to limit; zero means no limit.
func selectLog(ids []string, newestFirst bool, limit int) []string {
	out := slices.Clone(ids)
	if newestFirst {
		slices.Reverse(out)
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

func runFixup(cmd *cobra.Command, _ []string) error {
	changes, err := migration.Fixup(AppConfig.MigrationsDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if len(changes) == 0 {
		fmt.Fprintln(out, "All migration ids are up to date.")
		return nil
	}

	for _, c := range changes {
		fmt.Fprintf(out, "Renamed %s -> %s\n", c.Old, c.New)
	}

	return nil
}
