package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Reconcile the cache, then watch the extraction tree",
		Long: `Take the instance lock, open the processing cache, and run one reconciliation
pass so that changes made while the monitor was down are replayed. Then watch
the tree until interrupted, exporting every dataset that becomes complete.

The first SIGINT or SIGTERM stops the watcher after the export in flight has
finished; a second one exits immediately.`,
		Args: cobra.NoArgs,
		RunE: runMonitor,
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	rt, err := openRuntime(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.engine.Reconcile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("startup reconciliation: %w", err)
	}

	cc.Statusf("Reconciled in %d pass(es): %d removed, %d added, %d recovered.\n",
		report.Attempts, report.Deleted, report.Created, report.Recovered)

	source := newSource(cc.Cfg, rt.engine.Match, cc.Logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.engine.Run(gctx, source)
	})

	if addr := cc.Cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, rt.registry, cc.Logger)
		})
	}

	cc.Logger.Info("watching",
		slog.String("watch_dir", cc.Cfg.WatchDir),
		slog.String("backend", cc.Cfg.Watch.Backend),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// serveMetrics exposes reg on /metrics and a liveness probe on /healthz
// until ctx is canceled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listening on %s: %w", addr, err)
	}

	return serveMetricsOn(ctx, ln, reg, logger)
}

func serveMetricsOn(ctx context.Context, ln net.Listener, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("metrics server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
	}

	return nil
}
