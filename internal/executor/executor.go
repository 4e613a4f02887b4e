package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/parser"
	"github.com/aqasim81/migration-history/internal/tracker"
)

// Progress status constants reported via ProgressEvent.
const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ProgressEvent is emitted by the executor for each migration processed.
type ProgressEvent struct {
	Migration *migration.File
	Status    string
	Duration  time.Duration
	Error     error
}

// MigrationTracker abstracts schema_migrations operations for testability.
type MigrationTracker interface {
	EnsureTable(ctx context.Context) error
	CurrentHead(ctx context.Context) (string, bool, error)
	IsApplied(ctx context.Context, name string) (bool, error)
	RecordApplied(ctx context.Context, p tracker.RecordParams) error
}

// lockReleaser is returned by lockFn and must be released when done.
type lockReleaser interface {
	Release(ctx context.Context) error
}

// lockFunc acquires an advisory lock and returns a releaser.
type lockFunc func(ctx context.Context) (lockReleaser, error)

// sqlExecFunc executes a single migration's SQL.
type sqlExecFunc func(ctx context.Context, f *migration.File) error

// Executor applies migration files in order with transaction safety,
// timeouts, and an advisory lock to prevent concurrent runs.
type Executor struct {
	conn        database.Connection
	tracker     MigrationTracker
	limits      Limits
	dryRun      bool
	onProgress  func(ProgressEvent)
	logger      hclog.Logger
	acquireLock lockFunc
	execSQL     sqlExecFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithLockTimeout sets the per-transaction lock_timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Executor) { e.limits.Lock = d }
}

// WithStatementTimeout sets the per-transaction statement_timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(e *Executor) { e.limits.Statement = d }
}

// WithDryRun enables dry-run mode where no SQL is executed.
func WithDryRun(b bool) Option {
	return func(e *Executor) { e.dryRun = b }
}

// WithProgressCallback sets a function called for each migration processed.
func WithProgressCallback(fn func(ProgressEvent)) Option {
	return func(e *Executor) { e.onProgress = fn }
}

// WithLogger sets the executor's logger.
func WithLogger(l hclog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor on conn with the given tracker and options.
func New(conn database.Connection, t MigrationTracker, opts ...Option) *Executor {
	e := &Executor{
		conn:    conn,
		tracker: t,
		logger:  hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	// Set defaults for injectable functions after options are applied,
	// so tests can override them via options.
	if e.acquireLock == nil {
		e.acquireLock = func(ctx context.Context) (lockReleaser, error) {
			return database.TryAcquireLock(ctx, e.conn)
		}
	}

	if e.execSQL == nil {
		e.execSQL = e.executeMigration
	}

	return e
}

// Apply executes files in order. Files already recorded in the database are
// skipped; every other file must name the current database head as its
// parent. The advisory lock prevents concurrent migration runs.
func (e *Executor) Apply(ctx context.Context, files []*migration.File) error {
	lock, err := e.acquireLock(ctx)
	if err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer lock.Release(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort release on return

	if err := e.tracker.EnsureTable(ctx); err != nil {
		return err
	}

	head, _, err := e.tracker.CurrentHead(ctx)
	if err != nil {
		return fmt.Errorf("reading database head: %w", err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		applied, err := e.applyOne(ctx, f, head)
		if err != nil {
			return err
		}

		if applied {
			head = f.ID
		}
	}

	return nil
}

// applyOne handles a single migration: skip if applied, check its parent,
// dry-run check, execute, record, and fire progress. It reports whether the
// database head moved to f.
func (e *Executor) applyOne(ctx context.Context, f *migration.File, head string) (bool, error) {
	skip, err := e.shouldSkip(ctx, f, head)
	if err != nil {
		return false, err
	}

	if skip || e.dryRun {
		e.fireProgress(ProgressEvent{Migration: f, Status: StatusSkipped})
		return false, nil
	}

	e.fireProgress(ProgressEvent{Migration: f, Status: StatusStarting})
	e.log().Debug("applying migration", "id", f.ID, "path", f.Path)

	start := time.Now()
	execErr := e.execSQL(ctx, f)
	duration := time.Since(start)

	if execErr != nil {
		e.fireProgress(ProgressEvent{
			Migration: f,
			Status:    StatusFailed,
			Duration:  duration,
			Error:     execErr,
		})

		return false, fmt.Errorf("%w %s: %w", ErrApplyFailed, f.ID, execErr)
	}

	var parents []string
	if f.ParentID != "" {
		parents = []string{f.ParentID}
	}

	if err := e.tracker.RecordApplied(ctx, tracker.RecordParams{
		Name:        f.ID,
		Script:      f.Text,
		ParentNames: parents,
		GeneratedBy: f.GeneratedBy,
		DurationMs:  int(duration.Milliseconds()),
	}); err != nil {
		return false, fmt.Errorf("recording migration %s: %w", f.ID, err)
	}

	e.fireProgress(ProgressEvent{
		Migration: f,
		Status:    StatusCompleted,
		Duration:  duration,
	})

	return true, nil
}

// shouldSkip returns true if the migration is already applied. A pending
// migration whose parent is not the database head belongs to another
// history.
func (e *Executor) shouldSkip(ctx context.Context, f *migration.File, head string) (bool, error) {
	applied, err := e.tracker.IsApplied(ctx, f.ID)
	if err != nil {
		return false, fmt.Errorf("checking migration %s: %w", f.ID, err)
	}

	if applied {
		return true, nil
	}

	if f.ParentID != head {
		return false, fmt.Errorf("migration %s: %w: its parent is %s but the database is at %s",
			f.ID, migration.ErrDivergence, orInitial(f.ParentID), orInitial(head))
	}

	return false, nil
}

func orInitial(id string) string {
	if id == "" {
		return migration.InitialParent
	}

	return id
}

// executeMigration runs the SQL for a single migration. Scripts PostgreSQL
// will not run in a transaction block go straight to the connection without
// the timeout limits.
func (e *Executor) executeMigration(ctx context.Context, f *migration.File) error {
	autocommit, err := parser.NeedsAutocommit(f.Text)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", f.Path, err)
	}

	if autocommit {
		e.log().Debug("running migration outside a transaction", "id", f.ID)
		return e.conn.Execute(ctx, f.Text)
	}

	return InTransaction(ctx, e.conn, func(ctx context.Context) error {
		if err := e.limits.Set(ctx, e.conn); err != nil {
			return err
		}

		return e.conn.Execute(ctx, f.Text)
	})
}

func (e *Executor) log() hclog.Logger {
	if e.logger == nil {
		return hclog.NewNullLogger()
	}

	return e.logger
}

func (e *Executor) fireProgress(event ProgressEvent) {
	if e.onProgress != nil {
		e.onProgress(event)
	}
}
