package osutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that is cancelled on the first SIGINT or
// SIGTERM. A second signal exits immediately.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			slog.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			signal.Stop(sigs)
			return
		}
		select {
		case <-sigs:
			slog.Warn("forced exit")
			os.Exit(1)
		case <-parent.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}
