package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the status of a monitor stopped by a repeated signal.
const exitInterrupted = 130

var errStopRequested = errors.New("stop requested")

// forceExit is swapped in tests.
var forceExit = os.Exit

// shutdownContext ties the monitor to SIGINT and SIGTERM. The first signal
// cancels the returned context: watching stops, and an export already
// running is allowed to finish and land in the cache. A second signal
// abandons that export and exits.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	stops := make(chan os.Signal, 2)
	signal.Notify(stops, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(stops)
		awaitStop(parent, ctx, cancel, stops, logger)
	}()

	return ctx
}

func awaitStop(
	parent, ctx context.Context, cancel context.CancelCauseFunc,
	stops <-chan os.Signal, logger *slog.Logger,
) {
	var first os.Signal

	select {
	case first = <-stops:
	case <-ctx.Done():
		return
	}

	logger.Info("stopping monitor, waiting for a running export to settle",
		slog.String("signal", first.String()),
		slog.String("hint", "signal again to abort the export"),
	)
	cancel(fmt.Errorf("%w: %s", errStopRequested, first))

	select {
	case again := <-stops:
		logger.Warn("export abandoned, its files stay in processing until the next start",
			slog.String("signal", again.String()),
		)
		forceExit(exitInterrupted)
	case <-parent.Done():
	}
}
