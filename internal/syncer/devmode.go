package syncer

import (
	"context"
	"fmt"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/schema"
)

// Outcome is how a dev-mode sync left the migration block.
type Outcome int

const (
	// Aborted means the server had nothing to apply.
	Aborted Outcome = iota
	// Committed means inferred DDL was committed.
	Committed
)

func (o Outcome) String() string {
	if o == Committed {
		return "committed"
	}

	return "aborted"
}

// SyncResult summarises a dev-mode sync.
type SyncResult struct {
	// Applied lists filesystem migrations applied before inference.
	Applied []string
	// Diverged is set when the database head was not found on the filesystem.
	Diverged bool
	Outcome  Outcome
	// Statements holds the inferred DDL that was committed.
	Statements []string
}

// DevModeSync brings the database to the target schema. Filesystem
// migrations the database has not seen are applied first; the remaining
// difference is inferred by the server and committed without review. The
// migration lock is held for the whole pass.
func (e *Engine) DevModeSync(ctx context.Context, target *schema.Target) (*SyncResult, error) {
	lock, err := e.acquireLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}

	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("releasing migration lock", "error", err)
		}
	}()

	seq, err := e.fsMigrations(true)
	if err != nil {
		return nil, err
	}

	head, ok, err := e.CurrentHead(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}

	pending := seq.Values()

	if ok {
		pos := seq.Position(head)
		if pos < 0 {
			e.logger.Warn("database head is not in the migrations directory; skipping filesystem migrations",
				"head", head, "dir", e.migrationsDir)

			result.Diverged = true
			pending = nil
		} else {
			pending = pending[pos+1:]
		}
	}

	if len(pending) > 0 {
		if err := e.applier.Apply(ctx, pending); err != nil {
			return result, fmt.Errorf("applying migrations: %w", err)
		}

		for _, f := range pending {
			result.Applied = append(result.Applied, f.ID)
		}
	}

	err = inMigration(ctx, e.conn, target, func(ctx context.Context, b *block) (string, error) {
		if err := b.populate(ctx); err != nil {
			return "", err
		}

		d, err := b.describe(ctx)
		if err != nil {
			return "", err
		}

		if !d.Complete {
			return "", fmt.Errorf("%w: migration cannot be automatically populated", database.ErrServerProtocol)
		}

		if len(d.Confirmed) == 0 {
			return stmtAbort, nil
		}

		e.lint(string(migration.GeneratedByDevMode), d.Confirmed)

		result.Outcome = Committed
		result.Statements = d.Confirmed

		return stmtCommit, nil
	})
	if err != nil {
		result.Outcome = Aborted
		result.Statements = nil

		return result, fmt.Errorf("dev-mode sync: %w", err)
	}

	if result.Outcome == Committed {
		e.logger.Info("committed inferred DDL", "statements", len(result.Statements))
	}

	return result, nil
}
