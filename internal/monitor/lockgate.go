package monitor

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
)

// A lock marker covers the directory it lies in and everything below it:
// a marker in the device directory holds every session, a marker in a
// session directory holds that session only.

// activeLock returns the first marker on disk covering wf, or "".
func (e *Engine) activeLock(wf artifact.WatchedFile) string {
	for _, lock := range e.classifier.LockPaths(wf) {
		if e.exists(lock) {
			return lock
		}
	}

	return ""
}

// lockCreated records a new marker. The marker itself needs no export, so
// it goes straight to "completed", meaning "this directory is locked". A row
// left at "new" by an interrupted run is finished the same way.
func (e *Engine) lockCreated(ctx context.Context, wf artifact.WatchedFile) error {
	added, err := e.store.Add(ctx, wf.Path, cache.StatusNew)
	if err != nil {
		return err
	}

	if !added {
		entry, ok, err := e.store.Get(ctx, wf.Path)
		if err != nil {
			return err
		}

		if !ok || entry.Status != cache.StatusNew {
			e.logger.Debug("lock marker already cached", slog.String("path", wf.Path))
			return nil
		}
	}

	e.logger.Info("directory locked", slog.String("lock", wf.Path))

	return e.store.SetStatus(ctx, wf.Path, cache.StatusCompleted)
}

// hold parks a file under an active lock without correlating it.
func (e *Engine) hold(ctx context.Context, wf artifact.WatchedFile, lock string, known bool) error {
	e.logger.Info("file on hold", slog.String("path", wf.Path), slog.String("lock", lock))
	e.metrics.observeHold()

	if known {
		return e.store.SetStatus(ctx, wf.Path, cache.StatusOnHold)
	}

	_, err := e.store.Add(ctx, wf.Path, cache.StatusOnHold)

	return err
}

// releaseLock promotes the files held by a removed marker, then gives the
// device's waiting files another correlation pass.
//
// Every eligible held file is moved to "new" before any of them is
// evaluated: the first evaluation may complete and dispatch the dataset,
// and its siblings must not pass from "on_hold" straight to "processing".
// Files that vanished meanwhile are handled as deletions and files still
// covered by another marker stay on hold.
func (e *Engine) releaseLock(ctx context.Context, lock artifact.WatchedFile) error {
	dir := filepath.Dir(lock.Path)

	held, err := e.store.ListUnder(ctx, dir, cache.StatusOnHold)
	if err != nil {
		return err
	}

	e.logger.Info("directory unlocked",
		slog.String("lock", lock.Path), slog.Int("on_hold", len(held)))

	promoted := make([]string, 0, len(held))

	for i := range held {
		path := held[i].Path()

		ok, err := e.unhold(ctx, path)
		if err != nil {
			e.logger.Warn("releasing held file failed",
				slog.String("path", path), slog.String("error", err.Error()))

			continue
		}

		if ok {
			promoted = append(promoted, path)
		}
	}

	for _, path := range promoted {
		if err := e.HandleCreated(ctx, path); err != nil {
			e.logger.Warn("evaluating released file failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	return e.reevaluateWaiting(ctx, lock.Scope)
}

// unhold moves one held file back to "new" and reports whether it did.
func (e *Engine) unhold(ctx context.Context, path string) (bool, error) {
	entry, ok, err := e.store.Get(ctx, path)
	if err != nil {
		return false, err
	}

	if !ok || entry.Status != cache.StatusOnHold {
		return false, nil
	}

	if !e.exists(path) {
		e.logger.Info("held file vanished", slog.String("path", path))
		return false, e.HandleDeleted(ctx, path)
	}

	wf, ok := e.classifier.Classify(path)
	if !ok {
		return false, nil
	}

	if other := e.activeLock(wf); other != "" {
		e.logger.Debug("file still locked", slog.String("path", path), slog.String("lock", other))
		return false, nil
	}

	return true, e.store.SetStatus(ctx, path, cache.StatusNew)
}

// reevaluateWaiting correlates every waiting file of the device again. A
// dataset that spans sessions is parked as "waiting" when one member lies
// under a lock, and no later arrival is left to complete it once the lock
// is gone.
func (e *Engine) reevaluateWaiting(ctx context.Context, scope artifact.Scope) error {
	waiting, err := e.store.ListUnder(ctx, e.classifier.DeviceDir(scope), cache.StatusWaiting)
	if err != nil {
		return err
	}

	for i := range waiting {
		path := waiting[i].Path()

		// An earlier evaluation in this loop may have dispatched it.
		entry, ok, err := e.store.Get(ctx, path)
		if err != nil {
			return err
		}

		if !ok || entry.Status != cache.StatusWaiting || !e.exists(path) {
			continue
		}

		wf, ok := e.classifier.Classify(path)
		if !ok {
			continue
		}

		if err := e.evaluate(ctx, wf); err != nil {
			e.logger.Warn("re-evaluating waiting file failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	return nil
}
