package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/watch"
)

// ReconcileReport summarizes a startup reconciliation.
type ReconcileReport struct {
	Attempts  int  // diff passes run
	Converged bool // the last pass found no difference
	Recovered int  // rows found in "processing" or "new" and re-evaluated
	Deleted   int  // stale rows replayed as deletions
	Created   int  // uncached files replayed as arrivals
	Duration  time.Duration
}

// Reconcile brings the cache in line with the disk before watching starts.
//
// Rows a crash left in "processing" go back to "new", and every "new" row
// is evaluated again; a dataset interrupted mid-export is therefore
// exported again (at-least-once across restarts). Then cache and disk are
// diffed: stale rows are replayed as deletions and uncached files as
// arrivals, deletions first. Replaying can change the cache (a released
// lock promotes files), so the diff repeats until it comes back empty or
// the attempt budget runs out. Running out is logged, not returned: the
// watcher still starts on a possibly stale cache.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	start := time.Now()

	var report ReconcileReport

	recovered, err := e.recoverInterrupted(ctx)
	if err != nil {
		return report, err
	}

	report.Recovered = recovered

	for report.Attempts < e.reconcileAttempts {
		if ctx.Err() != nil {
			return report, fmt.Errorf("monitor: reconcile canceled: %w", ctx.Err())
		}

		report.Attempts++

		deleted, created, err := e.reconcileDelta(ctx)
		if err != nil {
			return report, err
		}

		if len(deleted) == 0 && len(created) == 0 {
			report.Converged = true
			break
		}

		e.logger.Info("reconciling cache with disk",
			slog.Int("attempt", report.Attempts),
			slog.Int("stale", len(deleted)),
			slog.Int("uncached", len(created)),
		)

		for _, p := range deleted {
			e.HandleEvent(ctx, watch.Event{Op: watch.Remove, Path: p})
		}

		for _, p := range created {
			e.HandleEvent(ctx, watch.Event{Op: watch.Create, Path: p})
		}

		report.Deleted += len(deleted)
		report.Created += len(created)
	}

	report.Duration = time.Since(start)
	e.metrics.observeReconcile(report)

	if !report.Converged {
		e.logger.Warn("reconciliation did not converge, continuing with a possibly stale cache",
			slog.Int("attempts", report.Attempts))

		return report, nil
	}

	e.logger.Info("reconciliation complete",
		slog.Int("attempts", report.Attempts),
		slog.Int("recovered", report.Recovered),
		slog.Int("deleted", report.Deleted),
		slog.Int("created", report.Created),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// recoverInterrupted resets "processing" rows and re-evaluates every row
// still in "new". Files gone from disk are left to the diff.
func (e *Engine) recoverInterrupted(ctx context.Context) (int, error) {
	processing, err := e.store.ListByStatus(ctx, cache.StatusProcessing)
	if err != nil {
		return 0, err
	}

	for i := range processing {
		e.logger.Warn("export was interrupted, evaluating again",
			slog.String("path", processing[i].Path()))

		if err := e.store.SetStatus(ctx, processing[i].Path(), cache.StatusNew); err != nil {
			return 0, err
		}
	}

	pending, err := e.store.ListByStatus(ctx, cache.StatusNew)
	if err != nil {
		return 0, err
	}

	n := 0

	for i := range pending {
		path := pending[i].Path()
		if !e.exists(path) {
			continue
		}

		n++
		e.HandleEvent(ctx, watch.Event{Op: watch.Create, Path: path})
	}

	return n, nil
}

// reconcileDelta returns cached paths missing on disk and watched paths on
// disk missing from the cache, each sorted.
func (e *Engine) reconcileDelta(ctx context.Context) (deleted, created []string, err error) {
	onDisk, err := watch.Scan(ctx, e.classifier.Root(), e.classifier.Match, e.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("monitor: scanning watch root: %w", err)
	}

	cached, err := e.knownPaths(ctx)
	if err != nil {
		return nil, nil, err
	}

	disk := make(map[string]bool, len(onDisk))
	for _, p := range onDisk {
		disk[p] = true
	}

	inCache := make(map[string]bool, len(cached))
	for _, p := range cached {
		inCache[p] = true

		if !disk[p] {
			deleted = append(deleted, p)
		}
	}

	for _, p := range onDisk {
		if !inCache[p] {
			created = append(created, p)
		}
	}

	sort.Strings(deleted)
	sort.Strings(created)

	return deleted, created, nil
}
