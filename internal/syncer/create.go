package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/schema"
)

// Decision is the user's answer to a proposal.
type Decision int

const (
	// Accept applies the proposed statements to the migration.
	Accept Decision = iota
	// Reject asks the server for a different proposal.
	Reject
	// Quit abandons the migration.
	Quit
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Quit:
		return "quit"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Prompter asks the user about server proposals.
type Prompter interface {
	Confirm(ctx context.Context, p *Proposal) (Decision, error)
}

// CreateOptions controls CreateMigration.
type CreateOptions struct {
	// NonInteractive accepts everything the server can infer on its own.
	NonInteractive bool
	// AllowEmpty writes a migration even when there are no changes.
	AllowEmpty bool
	// Prompter is consulted for every proposal in interactive mode.
	Prompter Prompter
}

// CreateResult is the migration CreateMigration wrote.
type CreateResult struct {
	File       *migration.File
	Statements []string
}

// CreateMigration captures the difference between the database and target
// as a new migration file whose parent is the last filesystem migration.
// The database must be up to date with the migrations directory. The
// migration block is only used to compute the DDL and is always aborted.
func (e *Engine) CreateMigration(ctx context.Context, target *schema.Target, opts CreateOptions) (*CreateResult, error) {
	if !opts.NonInteractive && opts.Prompter == nil {
		return nil, errors.New("creating migration: interactive mode needs a prompter")
	}

	seq, err := e.fsMigrations(true)
	if err != nil {
		return nil, err
	}

	head, ok, err := e.CurrentHead(ctx)
	if err != nil {
		return nil, err
	}

	last, _, hasLast := seq.Last()
	if ok != hasLast || head != last {
		return nil, fmt.Errorf("%w: database head is %s, last migration is %s; run `migrate` first",
			ErrNotUpToDate, orNone(head), orNone(last))
	}

	if !opts.NonInteractive {
		restore, err := database.DisableIdleTimeout(ctx, e.conn, e.logger)
		if err != nil {
			return nil, err
		}
		defer restore(context.WithoutCancel(ctx))
	}

	var statements []string

	err = inMigration(ctx, e.conn, target, func(ctx context.Context, b *block) (string, error) {
		var err error

		if opts.NonInteractive {
			statements, err = e.inferAll(ctx, b)
		} else {
			statements, err = e.dialogue(ctx, b, opts.Prompter)
		}

		return stmtAbort, err
	})
	if err != nil {
		return nil, fmt.Errorf("creating migration: %w", err)
	}

	if len(statements) == 0 && !opts.AllowEmpty {
		return nil, fmt.Errorf("%w; use --allow-empty to create an empty migration", ErrNoChanges)
	}

	e.lint("migration create", statements)

	f, err := migration.Write(e.migrationsDir, migration.Draft{
		Key:        migration.Index(uint64(seq.Len() + 1)),
		Parent:     last,
		Statements: statements,
	})
	if err != nil {
		return nil, fmt.Errorf("creating migration: %w", err)
	}

	return &CreateResult{File: f, Statements: statements}, nil
}

// inferAll lets the server resolve the whole migration on its own.
func (e *Engine) inferAll(ctx context.Context, b *block) ([]string, error) {
	if err := b.populate(ctx); err != nil {
		return nil, err
	}

	d, err := b.describe(ctx)
	if err != nil {
		return nil, err
	}

	if !d.Complete {
		return nil, fmt.Errorf("%w: server cannot resolve the migration without confirmation; "+
			"run without --non-interactive", database.ErrServerProtocol)
	}

	return d.Confirmed, nil
}

// dialogue walks the server's proposals with the user until the migration
// is complete.
func (e *Engine) dialogue(ctx context.Context, b *block, p Prompter) ([]string, error) {
	for {
		d, err := b.describe(ctx)
		if err != nil {
			return nil, err
		}

		if d.Complete {
			return d.Confirmed, nil
		}

		if d.Proposed == nil {
			return nil, fmt.Errorf("%w: server has no proposal for an incomplete migration",
				database.ErrServerProtocol)
		}

		decision, err := p.Confirm(ctx, d.Proposed)
		if err != nil {
			return nil, err
		}

		switch decision {
		case Accept:
			for _, text := range d.Proposed.Texts() {
				if err := b.conn.Execute(ctx, text); err != nil {
					return nil, fmt.Errorf("applying proposed statement: %w", err)
				}
			}
		case Reject:
			if err := b.conn.Execute(ctx, stmtRejectProposed); err != nil {
				return nil, fmt.Errorf("rejecting proposal: %w", err)
			}
		case Quit:
			return nil, migration.ErrUserAbort
		default:
			return nil, fmt.Errorf("unknown decision %d", decision)
		}

		e.logger.Debug("proposal answered", "decision", decision.String(), "prompt", d.Proposed.Prompt)
	}
}

func orNone(id string) string {
	if id == "" {
		return "(none)"
	}

	return id
}
