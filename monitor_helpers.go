package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/config"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/monitor"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/pipeline"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/watch"
)

// monitorRuntime is everything a command that mutates the cache holds open:
// the instance lock, the cache, and an engine wired to the export pipeline.
type monitorRuntime struct {
	store    *cache.Store
	engine   *monitor.Engine
	registry *prometheus.Registry
	unlock   func()
}

// openRuntime acquires the instance lock beside the cache database, opens
// the cache, and builds the engine. Close releases everything.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*monitorRuntime, error) {
	unlock, err := writePIDFile(pidFilePath(cfg.CacheDir))
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(ctx, cfg.CachePath(), logger)
	if err != nil {
		unlock()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := newEngine(cfg, store, monitor.NewMetrics(reg, store, logger), logger)
	if err != nil {
		store.Close()
		unlock()

		return nil, err
	}

	return &monitorRuntime{store: store, engine: engine, registry: reg, unlock: unlock}, nil
}

// Close closes the cache and releases the instance lock.
func (rt *monitorRuntime) Close() error {
	err := rt.store.Close()
	rt.unlock()

	return err
}

// newEngine builds the engine for cfg. Values were validated when the
// config was resolved, so parse errors here are programming errors.
func newEngine(cfg *config.Config, store *cache.Store, metrics *monitor.Metrics, logger *slog.Logger) (*monitor.Engine, error) {
	style, err := pipeline.ParseStyle(cfg.Export.OutputStyle)
	if err != nil {
		return nil, fmt.Errorf("export.output_style: %w", err)
	}

	types, err := pipeline.ParseConversationTypes(cfg.Export.ConversationTypes)
	if err != nil {
		return nil, fmt.Errorf("export.conversation_types: %w", err)
	}

	return monitor.NewEngine(&monitor.EngineConfig{
		Classifier:        artifact.NewClassifier(cfg.WatchDir, cfg.LockFilename).WithIgnore(cfg.Watch.Ignore...),
		Store:             store,
		Pipeline:          newPipeline(cfg, logger),
		OutputDir:         cfg.OutputDir,
		Style:             style,
		ConversationTypes: types,
		ReconcileAttempts: cfg.Watch.ReconcileAttempts,
		Metrics:           metrics,
		Logger:            logger,
	})
}

// newPipeline selects the export transport and wraps it in the configured
// free space and rate guards. The space check runs after the rate wait.
func newPipeline(cfg *config.Config, logger *slog.Logger) pipeline.Pipeline {
	var p pipeline.Pipeline

	if cfg.Export.Mode == config.ExportModeHTTP {
		p = pipeline.NewHTTP(cfg.Export.URL, nil, cfg.Export.TimeoutDuration(), logger)
	} else {
		p = pipeline.NewCommand(logger,
			pipeline.WithArgv(cfg.Export.Command),
			pipeline.WithDir(cfg.Export.WorkDir),
			pipeline.WithTimeout(cfg.Export.TimeoutDuration()),
		)
	}

	p = pipeline.RequireFreeSpace(p, cfg.Export.MinFreeBytes(), logger)

	return pipeline.Throttle(p, cfg.Export.MaxPerMinute)
}

// newSource selects the event source for the watch tree.
func newSource(cfg *config.Config, match watch.MatchFunc, logger *slog.Logger) watch.Source {
	if cfg.Watch.Backend == config.BackendFsnotify {
		return watch.NewNotify(cfg.WatchDir, match, cfg.Watch.SafetyScanDuration(), logger)
	}

	return watch.NewPoller(cfg.WatchDir, match, cfg.Watch.PollDuration(), logger)
}

// errNoCache is returned by openStore before the monitor has ever run.
var errNoCache = errors.New("no processing cache yet")

// openStore opens an existing cache for the reporting commands. It does not
// take the instance lock, so it works beside a running monitor.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Store, error) {
	path := cfg.CachePath()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s (run 'extraction-monitor reconcile' or 'run' first)", errNoCache, path)
	}

	return cache.Open(ctx, path, logger)
}
