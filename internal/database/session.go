package database

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// DisableIdleTimeout turns off idle_in_transaction_session_timeout for the
// session so an interactive dialogue can wait on the user. The returned
// function restores the previous setting; a failed restore is only logged.
func DisableIdleTimeout(ctx context.Context, conn Connection, logger hclog.Logger) (func(context.Context), error) {
	row, err := conn.QueryRequiredSingle(ctx,
		"SELECT current_setting('idle_in_transaction_session_timeout') AS previous")
	if err != nil {
		return nil, fmt.Errorf("reading idle_in_transaction_session_timeout: %w", err)
	}

	previous, err := row.String("previous")
	if err != nil {
		return nil, fmt.Errorf("reading idle_in_transaction_session_timeout: %w", err)
	}

	if err := conn.Execute(ctx, "SET idle_in_transaction_session_timeout = 0"); err != nil {
		return nil, fmt.Errorf("disabling idle_in_transaction_session_timeout: %w", err)
	}

	restore := func(ctx context.Context) {
		if !conn.IsConsistent() {
			return
		}

		err := conn.Execute(ctx, "SELECT set_config('idle_in_transaction_session_timeout', $1, false)", previous)
		if err != nil {
			logger.Warn("could not restore idle_in_transaction_session_timeout", "value", previous, "error", err)
		}
	}

	return restore, nil
}
