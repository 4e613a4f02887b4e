package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotUpToDate indicates the database has not applied every migration
	// on the filesystem.
	ErrNotUpToDate = errors.New("database is not up to date")
	// ErrNoChanges indicates the target schema matches the database.
	ErrNoChanges = errors.New("no schema changes detected")
)

// CloseError is a failure of the statement that closes a migration block.
// The block may still be open on the server.
type CloseError struct {
	Statement string
	Err       error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("closing migration block with %s: %v", e.Statement, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}
