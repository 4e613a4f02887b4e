package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-history/internal/analyzer"
	"github.com/aqasim81/migration-history/internal/analyzer/rules"
	"github.com/aqasim81/migration-history/internal/config"
	"github.com/aqasim81/migration-history/internal/executor"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/schema"
	"github.com/aqasim81/migration-history/internal/syncer"
	"github.com/aqasim81/migration-history/internal/tracker"
)

// errDangerousMigrations is returned when migrate is blocked by high/critical findings.
var errDangerousMigrations = errors.New("migrate aborted: dangerous migrations detected (use --force to override)")

func registerMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dev-mode", false, "also commit schema changes inferred from the schema directory")
	cmd.Flags().Bool("dry-run", false, "show what would be applied without executing")
	cmd.Flags().Bool("force", false, "apply even when pending migrations have high/critical findings")
	cmd.Flags().Duration("lock-timeout", 0, "override lock timeout (e.g., 10s, 1m)")
	cmd.Flags().Duration("statement-timeout", 0, "override statement timeout (e.g., 30s, 5m)")
}

type migrateOpts struct {
	devMode     bool
	dryRun      bool
	force       bool
	lockTimeout time.Duration
	stmtTimeout time.Duration
}

func migrateOptsFromFlags(cmd *cobra.Command, cfg *config.Config) migrateOpts {
	opts := migrateOpts{
		lockTimeout: cfg.LockTimeout,
		stmtTimeout: cfg.StatementTimeout,
	}

	opts.devMode, _ = cmd.Flags().GetBool("dev-mode")
	opts.dryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.force, _ = cmd.Flags().GetBool("force")

	if cmd.Flags().Changed("lock-timeout") {
		opts.lockTimeout, _ = cmd.Flags().GetDuration("lock-timeout")
	}

	if cmd.Flags().Changed("statement-timeout") {
		opts.stmtTimeout, _ = cmd.Flags().GetDuration("statement-timeout")
	}

	return opts
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	opts := migrateOptsFromFlags(cmd, cfg)

	if opts.devMode && opts.dryRun {
		return errors.New("--dev-mode and --dry-run cannot be combined")
	}

	seq, err := migration.ReadAll(cfg.MigrationsDir, true)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	return withSession(cmd, cfg.Branch, func(ctx context.Context, sess Session) error {
		progress := &applyProgress{out: cmd.OutOrStdout()}
		exec := newExecutor(sess, opts, progress)

		if opts.devMode {
			return devModeSync(ctx, cmd, sess, exec)
		}

		pending, err := pendingFiles(ctx, sess, seq)
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
			return nil
		}

		if !opts.force && !opts.dryRun {
			blocked, err := checkDangerousMigrations(cmd, pending, cfg)
			if err != nil {
				return err
			}

			if blocked {
				return errDangerousMigrations
			}
		}

		if opts.dryRun {
			fmt.Fprintln(cmd.OutOrStdout(), "\n--- DRY RUN (no changes will be made) ---")
		}

		if err := exec.Apply(ctx, pending); err != nil {
			return err
		}

		progress.summary(opts.dryRun, len(pending))

		return nil
	})
}

// pendingFiles returns the files after the database head. A head that is
// not in the migrations directory means the two histories diverged.
func pendingFiles(ctx context.Context, sess Session, seq *migration.Ordered[*migration.File]) ([]*migration.File, error) {
	head, ok, err := tracker.New(sess).CurrentHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading database head: %w", err)
	}

	if !ok {
		return seq.Values(), nil
	}

	pos := seq.Position(head)
	if pos < 0 {
		return nil, fmt.Errorf("%w: database migration %s is not in %s",
			migration.ErrDivergence, head, AppConfig.MigrationsDir)
	}

	return seq.Values()[pos+1:], nil
}

func devModeSync(ctx context.Context, cmd *cobra.Command, sess Session, exec *executor.Executor) error {
	target, err := loadTarget(AppConfig.SchemaDir)
	if err != nil {
		return err
	}

	res, err := newEngine(sess, syncer.WithApplier(exec)).DevModeSync(ctx, target)
	if err != nil {
		return err
	}

	printSyncResult(cmd.OutOrStdout(), res)

	return nil
}

func printSyncResult(out io.Writer, res *syncer.SyncResult) {
	if res.Diverged {
		fmt.Fprintln(out, "Database history has diverged from the migrations directory; skipped file migrations.")
	}

	if res.Outcome == syncer.Committed {
		fmt.Fprintf(out, "Committed %d inferred statement(s):\n", len(res.Statements))

		for _, s := range res.Statements {
			fmt.Fprintf(out, "    %s\n", s)
		}

		return
	}

	if len(res.Applied) == 0 {
		fmt.Fprintln(out, "Database is in sync with the schema.")
	}
}

// applyProgress prints executor progress and counts the outcome.
type applyProgress struct {
	out     io.Writer
	applied int
	skipped int
}

func (p *applyProgress) handle(event executor.ProgressEvent) {
	switch event.Status {
	case executor.StatusStarting:
		fmt.Fprintf(p.out, "  Applying %s ... ", migrationLabel(event.Migration))
	case executor.StatusCompleted:
		fmt.Fprintf(p.out, "done (%s)\n", event.Duration.Truncate(time.Millisecond))
		p.applied++
	case executor.StatusSkipped:
		p.skipped++
	case executor.StatusFailed:
		fmt.Fprintf(p.out, "FAILED\n")
		fmt.Fprintf(p.out, "    Error: %v\n", event.Error)
	}
}

func (p *applyProgress) summary(dryRun bool, total int) {
	if dryRun {
		fmt.Fprintf(p.out, "\nDry run complete: %d migration(s) would be applied.\n", total)
		return
	}

	fmt.Fprintf(p.out, "\nMigrate complete: %d applied, %d skipped.\n", p.applied, p.skipped)
}

func migrationLabel(f *migration.File) string {
	return fmt.Sprintf("%05d %s", f.Index, f.ID)
}

func newExecutor(sess Session, opts migrateOpts, progress *applyProgress) *executor.Executor {
	return executor.New(sess, tracker.New(sess),
		executor.WithLockTimeout(opts.lockTimeout),
		executor.WithStatementTimeout(opts.stmtTimeout),
		executor.WithDryRun(opts.dryRun),
		executor.WithProgressCallback(progress.handle),
		executor.WithLogger(logger.Named("executor")),
	)
}

func newAnalyzer(cfg *config.Config) *analyzer.Analyzer {
	return analyzer.New(
		analyzer.WithRegistry(rules.NewDefaultRegistry()),
		analyzer.WithPGVersion(cfg.TargetPGVersion),
	)
}

// newEngine builds a sync engine on sess for the configured migrations directory.
func newEngine(sess Session, opts ...syncer.Option) *syncer.Engine {
	opts = append([]syncer.Option{
		syncer.WithAnalyzer(newAnalyzer(AppConfig)),
		syncer.WithLogger(logger.Named("sync")),
	}, opts...)

	return syncer.New(sess, AppConfig.MigrationsDir, opts...)
}

// loadTarget reads and validates the schema directory.
func loadTarget(dir string) (*schema.Target, error) {
	target, err := schema.Load(dir)
	if err != nil {
		return nil, err
	}

	if err := target.Validate(); err != nil {
		return nil, err
	}

	return target, nil
}

// checkDangerousMigrations runs the analyzer over files and reports whether
// HIGH/CRITICAL findings were found (blocking migrate). Findings are printed
// only when there are some.
func checkDangerousMigrations(cmd *cobra.Command, files []*migration.File, cfg *config.Config) (bool, error) {
	results, err := newAnalyzer(cfg).AnalyzeAll(files)
	if err != nil {
		return false, fmt.Errorf("analyzing migrations: %w", err)
	}

	if countMigrationsWithFindings(results) == 0 {
		return false, nil
	}

	return printAnalysisResults(cmd, results), nil
}

// withSession connects to branch, runs fn and closes the session.
func withSession(cmd *cobra.Command, branch string, fn func(ctx context.Context, sess Session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := connect(ctx, AppConfig, branch)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("closing connection", "error", cerr)
		}
	}()

	return fn(ctx, sess)
}
