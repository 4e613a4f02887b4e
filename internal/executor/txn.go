package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aqasim81/migration-history/internal/database"
)

// ErrApplyFailed wraps the failure of a migration's own SQL.
var ErrApplyFailed = errors.New("applying migration failed")

// Limits bounds how long a migration may wait for locks and run each
// statement. Zero leaves the server setting alone.
type Limits struct {
	Lock      time.Duration
	Statement time.Duration
}

// Set issues SET LOCAL for every non-zero limit. It must run inside a
// transaction.
func (l Limits) Set(ctx context.Context, conn database.Connection) error {
	settings := []struct {
		name string
		d    time.Duration
	}{
		{"lock_timeout", l.Lock},
		{"statement_timeout", l.Statement},
	}

	for _, s := range settings {
		if s.d <= 0 {
			continue
		}

		sql := fmt.Sprintf("SET LOCAL %s = '%dms'", s.name, s.d.Milliseconds())
		if err := conn.Execute(ctx, sql); err != nil {
			return fmt.Errorf("setting %s: %w", s.name, err)
		}
	}

	return nil
}

// InTransaction runs fn between BEGIN and COMMIT on conn. A failing fn is
// rolled back unless the connection is no longer consistent.
func InTransaction(ctx context.Context, conn database.Connection, fn func(ctx context.Context) error) error {
	if err := conn.Execute(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(ctx); err != nil {
		if conn.IsConsistent() {
			_ = conn.Execute(context.WithoutCancel(ctx), "ROLLBACK") //nolint:errcheck // the fn error is reported
		}

		return err
	}

	if err := conn.Execute(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
