// Triagectl queries the triage reference index and specialty routing offline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/linnemanlabs/medtriage/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
