package migration

import "errors"

var (
	// ErrValidation marks a corrupt, cyclic or tampered migration history.
	ErrValidation = errors.New("invalid migration history")
	// ErrDivergence marks two histories that cannot be reconciled.
	ErrDivergence = errors.New("migration histories diverge")
	// ErrUserAbort marks an operation cancelled by the user.
	ErrUserAbort = errors.New("aborted by user")
)
