package database

import (
	"context"
	"fmt"
)

// MigrationLockID is the advisory lock identifier used to prevent
// concurrent migration runs.
const MigrationLockID int64 = 123456789

// LockHandle holds a session-level advisory lock on a connection.
// Call Release to unlock.
type LockHandle struct {
	conn Connection
}

// TryAcquireLock attempts to acquire a session-level advisory lock on conn.
// Returns ErrLockNotAcquired if the lock is already held by another session.
func TryAcquireLock(ctx context.Context, conn Connection) (*LockHandle, error) {
	row, err := conn.QueryRequiredSingle(ctx, "SELECT pg_try_advisory_lock($1) AS acquired", MigrationLockID)
	if err != nil {
		return nil, fmt.Errorf("executing pg_try_advisory_lock: %w", err)
	}

	acquired, err := row.Bool("acquired")
	if err != nil {
		return nil, fmt.Errorf("executing pg_try_advisory_lock: %w", err)
	}

	if !acquired {
		return nil, ErrLockNotAcquired
	}

	return &LockHandle{conn: conn}, nil
}

// Release unlocks the advisory lock.
// Safe to call multiple times; subsequent calls are no-ops.
func (h *LockHandle) Release(ctx context.Context) error {
	if h == nil || h.conn == nil {
		return nil
	}

	conn := h.conn
	h.conn = nil

	if err := conn.Execute(ctx, "SELECT pg_advisory_unlock($1)", MigrationLockID); err != nil {
		return fmt.Errorf("releasing advisory lock: %w", err)
	}

	return nil
}
