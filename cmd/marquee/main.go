// Command marquee runs an unattended browser kiosk: it drives a real
// Chrome instance through a URL playlist until it is told to stop.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/marquee/cmd"
	"github.com/xkilldash9x/marquee/internal/observability"
)

// osExit is indirected so tests can observe the exit code.
var osExit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	// A signal-driven shutdown surfaces as context.Canceled somewhere in
	// the command tree; that is a clean exit, not a failure.
	if err != nil && !errors.Is(err, context.Canceled) {
		osExit(1)
	}
}
