package syncer

import (
	"context"
	"fmt"

	"github.com/aqasim81/migration-history/internal/schema"
)

// driftPreviewLimit is how many drift statements a report spells out.
const driftPreviewLimit = 3

// State relates the database head to the migrations directory.
type State int

const (
	// UpToDate means the database head is the last filesystem migration.
	UpToDate State = iota
	// Empty means the database has no migrations yet.
	Empty
	// Behind means the database head is an earlier filesystem migration.
	Behind
	// Diverged means the database head is not in the migrations directory.
	Diverged
)

func (s State) String() string {
	switch s {
	case UpToDate:
		return "up to date"
	case Empty:
		return "empty"
	case Behind:
		return "behind"
	case Diverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// Drift describes schema changes not yet captured in a migration.
type Drift struct {
	Statements []string // at most three
	Remaining  int      // statements beyond Statements
	Proposed   bool     // the server still has unconfirmed proposals
}

// Report is the outcome of a status check.
type Report struct {
	State State
	// Head is the database head; empty for Empty.
	Head string
	// Last is the last filesystem migration; empty when there is none.
	Last string
	// Pending counts filesystem migrations the database has not applied.
	Pending int
	// Drift is set when the database is up to date but the schema differs.
	Drift *Drift
}

// CheckStatus compares the database head with the migrations directory and,
// when the database is up to date, asks the server whether the schema
// directory holds changes no migration captures. The migration block opened
// for that question is always aborted.
func (e *Engine) CheckStatus(ctx context.Context, target *schema.Target) (*Report, error) {
	seq, err := e.fsMigrations(false)
	if err != nil {
		return nil, err
	}

	head, ok, err := e.CurrentHead(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Head: head}
	if last, _, found := seq.Last(); found {
		report.Last = last
	}

	switch {
	case !ok:
		report.State = Empty
		report.Pending = seq.Len()

		if seq.Len() == 0 {
			report.State = UpToDate
		}
	case seq.Position(head) < 0:
		report.State = Diverged
	case head != report.Last:
		report.State = Behind
		report.Pending = seq.Len() - seq.Position(head) - 1
	default:
		report.State = UpToDate
	}

	if report.State != UpToDate {
		return report, nil
	}

	drift, err := e.describeDrift(ctx, target)
	if err != nil {
		return nil, err
	}

	report.Drift = drift

	return report, nil
}

func (e *Engine) describeDrift(ctx context.Context, target *schema.Target) (*Drift, error) {
	var drift *Drift

	err := inMigration(ctx, e.conn, target, func(ctx context.Context, b *block) (string, error) {
		d, err := b.describe(ctx)
		if err != nil {
			return "", err
		}

		if len(d.Confirmed) == 0 && d.Proposed == nil {
			return stmtAbort, nil
		}

		statements := d.Confirmed
		if len(statements) == 0 && d.Proposed != nil {
			statements = d.Proposed.Texts()
		}

		drift = &Drift{Proposed: d.Proposed != nil}
		if len(statements) > driftPreviewLimit {
			drift.Statements = statements[:driftPreviewLimit]
			drift.Remaining = len(statements) - driftPreviewLimit
		} else {
			drift.Statements = statements
		}

		return stmtAbort, nil
	})
	if err != nil {
		return nil, fmt.Errorf("checking schema drift: %w", err)
	}

	return drift, nil
}
