// Command migrate keeps a PostgreSQL database in step with a directory of
// schema files through an ordered migration history.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqasim81/migration-history/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := cli.Execute(ctx)

	stop()
	os.Exit(code)
}
