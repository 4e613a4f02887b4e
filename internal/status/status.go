// Package status turns a sync report into the exit code and text of
// `migration status`.
package status

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/aqasim81/migration-history/internal/syncer"
)

// Exit codes of `migration status`.
const (
	ExitUpToDate      = 0
	ExitSchemaChanged = 2
	ExitNotApplied    = 3
)

// ExitCode maps a report to the process exit code.
func ExitCode(r *syncer.Report) int {
	switch {
	case r.State != syncer.UpToDate:
		return ExitNotApplied
	case r.Drift != nil:
		return ExitSchemaChanged
	default:
		return ExitUpToDate
	}
}

// Render writes a human-readable summary of r to w.
func Render(w io.Writer, r *syncer.Report) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed)

	switch r.State {
	case syncer.Empty:
		_, _ = bad.Fprintf(w, "Database is empty, while %d migrations have been found in the migrations directory.\n",
			r.Pending)
		_, _ = fmt.Fprintln(w, "Run `migrate` to apply them.")
	case syncer.Behind:
		_, _ = bad.Fprintf(w, "Database is at migration %s while sources contain %d migrations ahead.\n",
			r.Head, r.Pending)
		_, _ = fmt.Fprintln(w, "Run `migrate` to apply them.")
	case syncer.Diverged:
		_, _ = bad.Fprintf(w, "Database migration %s is not found in the migrations directory.\n", r.Head)
		_, _ = fmt.Fprintln(w, "The database and the migrations directory have diverged; check out the matching branch.")
	case syncer.UpToDate:
		if r.Drift == nil {
			if r.Last == "" {
				_, _ = ok.Fprintln(w, "Database is empty and there are no migrations.")
			} else {
				_, _ = ok.Fprintf(w, "Database is up to date. Last migration: %s.\n", r.Last)
			}

			return
		}

		_, _ = warn.Fprintln(w, "Detected differences between the database schema and the schema source, in particular:")

		for _, s := range r.Drift.Statements {
			_, _ = fmt.Fprintf(w, "    %s\n", s)
		}

		if r.Drift.Remaining > 0 {
			_, _ = fmt.Fprintf(w, "... and %d other changes\n", r.Drift.Remaining)
		}

		_, _ = fmt.Fprintln(w, "Run `migrate migration create` to capture them in a migration.")
	}
}
