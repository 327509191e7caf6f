// Package monitor is the file-arrival state machine. It consumes create and
// remove events for the watch tree one at a time, records every watched
// file in the processing cache, holds back files covered by a lock marker,
// asks the correlator whether a dataset is complete, and hands complete
// datasets to the export pipeline exactly once.
//
// Nothing here runs concurrently with anything else: the event source runs
// in its own goroutine, but every state transition happens on the goroutine
// that called Run or Reconcile.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/correlate"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/pipeline"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/watch"
)

const (
	// DefaultReconcileAttempts bounds the startup diff-and-replay loop.
	DefaultReconcileAttempts = 10

	// eventBuffer decouples the source from a slow export. Sources block
	// once it is full, which is harmless: they only observe.
	eventBuffer = 256
)

// EngineConfig holds the collaborators of an Engine.
type EngineConfig struct {
	Classifier        *artifact.Classifier
	Store             *cache.Store
	Pipeline          pipeline.Pipeline
	OutputDir         string // root of per-dataset export directories
	Style             pipeline.Style
	ConversationTypes []pipeline.ConversationType
	ReconcileAttempts int      // 0 selects DefaultReconcileAttempts
	Metrics           *Metrics // optional
	Logger            *slog.Logger
}

// Engine drives the file state machine.
type Engine struct {
	classifier *artifact.Classifier
	store      *cache.Store
	correlator *correlate.Correlator
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *slog.Logger

	reconcileAttempts int

	exists func(path string) bool // injectable for tests
}

// NewEngine wires an Engine from cfg.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	switch {
	case cfg.Classifier == nil:
		return nil, errors.New("monitor: classifier required")
	case cfg.Store == nil:
		return nil, errors.New("monitor: cache store required")
	case cfg.Pipeline == nil:
		return nil, errors.New("monitor: export pipeline required")
	case cfg.Logger == nil:
		return nil, errors.New("monitor: logger required")
	}

	attempts := cfg.ReconcileAttempts
	if attempts <= 0 {
		attempts = DefaultReconcileAttempts
	}

	return &Engine{
		classifier: cfg.Classifier,
		store:      cfg.Store,
		correlator: correlate.New(cfg.Classifier, cfg.Logger),
		dispatcher: NewDispatcher(&DispatcherConfig{
			Store:             cfg.Store,
			Pipeline:          cfg.Pipeline,
			OutputDir:         cfg.OutputDir,
			Style:             cfg.Style,
			ConversationTypes: cfg.ConversationTypes,
			Metrics:           cfg.Metrics,
			Logger:            cfg.Logger,
		}),
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		reconcileAttempts: attempts,
		exists:            pathExists,
	}, nil
}

// Match reports whether path is a file the engine tracks. Sources use it
// as their filter.
func (e *Engine) Match(path string) bool {
	return e.classifier.Match(path)
}

// Run streams events from source into the state machine until ctx is
// canceled or the source fails. The source is seeded with every cached
// path, so run Reconcile first. Returns nil on clean shutdown.
func (e *Engine) Run(ctx context.Context, source watch.Source) error {
	known, err := e.knownPaths(ctx)
	if err != nil {
		return err
	}

	events := make(chan watch.Event, eventBuffer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)

		if err := source.Watch(gctx, known, events); err != nil {
			return fmt.Errorf("monitor: event source: %w", err)
		}

		return nil
	})

	e.logger.Info("monitor started", slog.Int("known_files", len(known)))

	e.consume(ctx, events)

	if err := g.Wait(); err != nil {
		return err
	}

	e.logger.Info("monitor stopped")

	return nil
}

// consume handles events until the channel closes or ctx is canceled.
// Events still buffered at cancellation are dropped; the next startup
// reconciliation replays them.
func (e *Engine) consume(ctx context.Context, events <-chan watch.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			e.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one event. Failures are logged and never returned:
// a bad file or a cache hiccup must not stop the loop.
func (e *Engine) HandleEvent(ctx context.Context, ev watch.Event) {
	var err error

	switch ev.Op {
	case watch.Create:
		err = e.HandleCreated(ctx, ev.Path)
	case watch.Remove:
		err = e.HandleDeleted(ctx, ev.Path)
	default:
		e.logger.Warn("unknown event op", slog.String("op", ev.Op.String()), slog.String("path", ev.Path))
		return
	}

	if err != nil {
		e.logger.Error("event handling failed",
			slog.String("op", ev.Op.String()),
			slog.String("path", ev.Path),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) knownPaths(ctx context.Context) ([]string, error) {
	entries, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor: loading cached paths: %w", err)
	}

	paths := make([]string, len(entries))
	for i := range entries {
		paths[i] = entries[i].Path()
	}

	return paths, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
