// Package syncer drives a database through the schema-diff protocol: it
// reports how the database relates to the migrations directory, keeps a
// development database in sync with the schema, and creates migrations from
// the schema changes the server infers.
package syncer

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/aqasim81/migration-history/internal/analyzer"
	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/executor"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/tracker"
)

// History is the database's record of applied migrations.
type History interface {
	CurrentHead(ctx context.Context) (string, bool, error)
}

// Applier applies migration files through the standard execution path.
type Applier interface {
	Apply(ctx context.Context, files []*migration.File) error
}

// Releaser gives up a held migration lock.
type Releaser interface {
	Release(ctx context.Context) error
}

// LockFunc takes the migration lock for the duration of a sync.
type LockFunc func(ctx context.Context) (Releaser, error)

// Engine runs sync operations on one connection and migrations directory.
type Engine struct {
	conn          database.Connection
	migrationsDir string
	history       History
	applier       Applier
	acquireLock   LockFunc
	analyzer      *analyzer.Analyzer
	logger        hclog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory overrides where the database head is read from.
func WithHistory(h History) Option {
	return func(e *Engine) { e.history = h }
}

// WithApplier overrides how pending migration files are applied.
func WithApplier(a Applier) Option {
	return func(e *Engine) { e.applier = a }
}

// WithLock overrides how the migration lock is taken.
func WithLock(fn LockFunc) Option {
	return func(e *Engine) { e.acquireLock = fn }
}

// WithAnalyzer enables safety warnings for DDL the server infers.
func WithAnalyzer(a *analyzer.Analyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithLogger sets the engine's logger.
func WithLogger(l hclog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. By default the head comes from the schema_migrations
// catalog, files are applied by an executor on conn and the migration lock
// is an advisory lock on conn.
func New(conn database.Connection, migrationsDir string, opts ...Option) *Engine {
	e := &Engine{
		conn:          conn,
		migrationsDir: migrationsDir,
		logger:        hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.acquireLock == nil {
		e.acquireLock = func(ctx context.Context) (Releaser, error) {
			return database.TryAcquireLock(ctx, conn)
		}
	}

	if e.history == nil || e.applier == nil {
		t := tracker.New(conn)

		if e.history == nil {
			e.history = t
		}

		if e.applier == nil {
			e.applier = executor.New(conn, t, executor.WithLogger(e.logger.Named("executor")))
		}
	}

	return e
}

// CurrentHead returns the id of the database's latest migration. ok is
// false for a database without migrations.
func (e *Engine) CurrentHead(ctx context.Context) (string, bool, error) {
	head, ok, err := e.history.CurrentHead(ctx)
	if err != nil {
		return "", false, fmt.Errorf("reading current head: %w", err)
	}

	return head, ok, nil
}

// fsMigrations reads the migrations directory.
func (e *Engine) fsMigrations(includeScripts bool) (*migration.Ordered[*migration.File], error) {
	seq, err := migration.ReadAll(e.migrationsDir, includeScripts)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	return seq, nil
}

// lint logs safety findings for statements the server inferred.
func (e *Engine) lint(source string, statements []string) {
	if e.analyzer == nil || len(statements) == 0 {
		return
	}

	result, err := e.analyzer.AnalyzeStatements(source, statements)
	if err != nil {
		e.logger.Debug("inferred DDL could not be analyzed", "source", source, "error", err)
		return
	}

	for _, f := range result.Findings {
		if f.Severity >= analyzer.Medium {
			e.logger.Warn("risky inferred DDL", "rule", f.Rule, "severity", f.Severity.String(),
				"table", f.Table, "message", f.Message, "suggestion", f.Suggestion)
		}
	}
}
