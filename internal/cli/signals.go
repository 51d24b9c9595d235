package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stackbuild/internal/console"
)

// HandleSignals cancels the run on the first SIGINT/SIGTERM so the
// orchestrator can stop child processes and save its report. A second
// signal, or a shutdown that takes too long, exits immediately.
func HandleSignals(ctx context.Context, cancel context.CancelFunc, p *console.Printer) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			p.Warn("Received %v. Stopping builds, press Ctrl+C again to exit now", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			p.Error("Forced immediate exit.")
			os.Exit(130)
		case <-time.After(30 * time.Second):
			p.Error("Shutdown timed out.")
			os.Exit(130)
		}
	}()
}
