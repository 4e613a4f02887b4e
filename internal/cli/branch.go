package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/rebase"
	"github.com/aqasim81/migration-history/internal/tracker"
)

var branchCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "branch",
	Short: "Work with database branches",
}

var branchMergeCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "merge <target-branch>",
	Short: "Bring another branch's migrations into the current branch",
	Long: `Add the migrations the target branch has on top of the current
branch's history to the migrations directory and apply them.

The current branch's history must be a prefix of the target's. Merged
migrations are re-parented onto the current head and get new ids.`,
	Args: cobra.ExactArgs(1),
	RunE: runBranchMerge,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	branchMergeCmd.Flags().Bool("no-apply", false, "only write the migration files")

	branchCmd.AddCommand(branchMergeCmd)
	rootCmd.AddCommand(branchCmd)
}

func runBranchMerge(cmd *cobra.Command, args []string) error {
	cfg := AppConfig
	targetBranch := args[0]
	noApply, _ := cmd.Flags().GetBool("no-apply")

	var target *migration.Ordered[*migration.Record]

	err := withSession(cmd, targetBranch, func(ctx context.Context, sess Session) error {
		var err error

		target, err = tracker.New(sess).History(ctx)
		if err != nil {
			return fmt.Errorf("reading history of branch %s: %w", targetBranch, err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return withSession(cmd, cfg.Branch, func(ctx context.Context, sess Session) error {
		base, err := tracker.New(sess).History(ctx)
		if err != nil {
			return fmt.Errorf("reading history of the current branch: %w", err)
		}

		plan, err := rebase.Plan(base, target)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if plan.Target.Len() == 0 {
			fmt.Fprintf(out, "Branch %s has no migrations missing from the current branch.\n", targetBranch)
			return nil
		}

		written, err := rebase.Materialize(ctx, plan, cfg.MigrationsDir, logger.Named("merge"))
		if err != nil {
			return err
		}

		for _, path := range written {
			fmt.Fprintf(out, "Added %s\n", path)
		}

		if noApply {
			return nil
		}

		progress := &applyProgress{out: out}
		exec := newExecutor(sess, migrateOpts{lockTimeout: cfg.LockTimeout, stmtTimeout: cfg.StatementTimeout}, progress)

		if err := rebase.Apply(ctx, plan, cfg.MigrationsDir, exec); err != nil {
			return err
		}

		progress.summary(false, plan.Target.Len())

		return nil
	})
}
