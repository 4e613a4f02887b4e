package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-history/internal/syncer"
	"github.com/aqasim81/migration-history/internal/watch"
)

var watchCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "watch",
	Short: "Keep a development database in sync with the schema",
	Long: `Watch the schema and migrations directories and run a dev-mode sync
after every change: new migration files are applied and the remaining
schema difference is committed without writing a migration.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	return withSession(cmd, cfg.Branch, func(ctx context.Context, sess Session) error {
		progress := &applyProgress{out: out}
		exec := newExecutor(sess, migrateOpts{lockTimeout: cfg.LockTimeout, stmtTimeout: cfg.StatementTimeout}, progress)
		engine := newEngine(sess, syncer.WithApplier(exec))

		sync := func(ctx context.Context) error {
			target, err := loadTarget(cfg.SchemaDir)
			if err != nil {
				return err
			}

			res, err := engine.DevModeSync(ctx, target)
			if err != nil {
				return err
			}

			printSyncResult(out, res)

			return nil
		}

		w := watch.New([]string{cfg.SchemaDir, cfg.MigrationsDir}, sync,
			watch.WithDebounce(cfg.WatchDebounce),
			watch.WithLogger(logger.Named("watch")),
			watch.WithReady(func() {
				fmt.Fprintf(out, "Watching %s and %s for changes. Press Ctrl+C to stop.\n",
					cfg.SchemaDir, cfg.MigrationsDir)
			}),
		)

		return w.Run(ctx)
	})
}
