package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/rebase"
	"github.com/aqasim81/migration-history/internal/schema"
	"github.com/aqasim81/migration-history/internal/syncer"
)

// Process exit codes besides the ones `migration status` defines.
const (
	exitFailure     = 1
	exitNoChanges   = 4
	exitInterrupted = 130
)

// errDatabaseURLRequired is returned when no database URL is configured.
var errDatabaseURLRequired = errors.New( //nolint:gochecknoglobals // sentinel error
	"database URL is required (set --database-url, MIGRATE_DATABASE_URL, or database_url in config)",
)

// ExitError ends the process with Code. A nil Err means the command has
// already written everything the user needs to see.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}

	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// report prints err with a hint when one applies and returns the exit code.
func report(w io.Writer, err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return exitErr.Code
	}

	_, _ = color.New(color.FgRed, color.Bold).Fprint(w, "error: ")
	_, _ = fmt.Fprintln(w, err)

	if h := hint(err); h != "" {
		_, _ = color.New(color.FgCyan).Fprintf(w, "  hint: %s\n", h)
	}

	return exitCode(err)
}

// exitCode picks the exit code for err. A failed close of a migration block
// leaves the connection in an unknown state and overrides the code the
// underlying error would get.
func exitCode(err error) int {
	var closeErr *syncer.CloseError
	var exitErr *ExitError

	switch {
	case errors.As(err, &closeErr):
		return exitFailure
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, syncer.ErrNoChanges):
		return exitNoChanges
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}

func hint(err error) string {
	var located *schema.LocatedError

	switch {
	case errors.Is(err, syncer.ErrNotUpToDate):
		return "run `migrate` to apply the pending migrations first"
	case errors.Is(err, database.ErrLockNotAcquired):
		return "another migration run holds the lock; retry once it finishes"
	case errors.Is(err, rebase.ErrIndexConflict):
		return "remove or renumber the conflicting migration files and retry the merge"
	case errors.Is(err, migration.ErrDivergence):
		return "check out the branch matching the database, or merge with `migrate branch merge`"
	case errors.Is(err, migration.ErrUserAbort):
		return "no migration was written"
	case errors.As(err, &located):
		return "fix the schema file at " + located.Location.String()
	case errors.Is(err, schema.ErrNoSchema):
		return "create at least one .sql file in the schema directory"
	case errors.Is(err, database.ErrConnectionFailed):
		return "check the database URL and that the server is reachable"
	default:
		return ""
	}
}
