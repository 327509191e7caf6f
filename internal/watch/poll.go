package watch

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is the snapshot interval when none is configured.
const DefaultPollInterval = time.Second

// Poller detects changes by comparing consecutive directory snapshots. It
// works on every filesystem, including network mounts that never deliver
// inotify events.
type Poller struct {
	root     string
	match    MatchFunc
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller returns a Poller over root. A non-positive interval selects
// DefaultPollInterval.
func NewPoller(root string, match MatchFunc, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Poller{
		root:     root,
		match:    match,
		interval: interval,
		logger:   logger,
	}
}

// Watch scans immediately, then once per interval, until ctx is canceled.
// A failed scan is logged and retried on the next tick with the previous
// snapshot kept.
func (p *Poller) Watch(ctx context.Context, known []string, events chan<- Event) error {
	p.logger.Info("polling watch started",
		slog.String("root", p.root),
		slog.Duration("interval", p.interval),
		slog.Int("known", len(known)),
	)

	prev := newSnapshot(known)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		cur, err := scanTree(ctx, p.root, p.match, p.logger)

		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			p.logger.Warn("poll scan failed", slog.String("error", err.Error()))
		default:
			changes := diff(prev, cur)
			if len(changes) > 0 {
				p.logger.Debug("poll scan found changes", slog.Int("events", len(changes)))
			}

			sendAll(ctx, events, changes)
			prev = cur
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
