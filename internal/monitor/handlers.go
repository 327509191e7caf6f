package monitor

import (
	"context"
	"log/slog"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/correlate"
)

// HandleCreated processes the arrival of path. A file that already has a
// cache row is ignored unless the row is "new", which is how the
// reconciler and the lock gate ask for a file to be evaluated again.
func (e *Engine) HandleCreated(ctx context.Context, path string) error {
	wf, ok := e.classifier.Classify(path)
	if !ok {
		e.logger.Debug("ignoring unwatched file", slog.String("path", path))
		return nil
	}

	e.metrics.observeEvent("create", wf.Kind.String())

	if wf.Kind == artifact.KindLock {
		return e.lockCreated(ctx, wf)
	}

	entry, known, err := e.store.Get(ctx, wf.Path)
	if err != nil {
		return err
	}

	if known && entry.Status != cache.StatusNew {
		e.logger.Debug("file already cached, ignoring",
			slog.String("path", wf.Path), slog.String("status", entry.Status.String()))

		return nil
	}

	if lock := e.activeLock(wf); lock != "" {
		return e.hold(ctx, wf, lock, known)
	}

	if !known {
		if _, err := e.store.Add(ctx, wf.Path, cache.StatusNew); err != nil {
			return err
		}

		e.logger.Info("new file", slog.String("path", wf.Path), slog.String("kind", wf.Kind.String()))
	}

	return e.evaluate(ctx, wf)
}

// HandleDeleted processes the removal of path. Removing a lock marker
// releases the files it held first. The file's own row is always dropped.
func (e *Engine) HandleDeleted(ctx context.Context, path string) error {
	wf, ok := e.classifier.Classify(path)
	if !ok {
		return nil
	}

	e.metrics.observeEvent("remove", wf.Kind.String())

	if wf.Kind == artifact.KindLock {
		if err := e.releaseLock(ctx, wf); err != nil {
			return err
		}
	}

	e.logger.Info("file removed", slog.String("path", wf.Path))

	return e.store.Remove(ctx, wf.Path)
}

// evaluate runs correlation for a file in status "new" and either
// dispatches the completed dataset or parks the file as "waiting".
func (e *Engine) evaluate(ctx context.Context, wf artifact.WatchedFile) error {
	ds, outcome := e.correlator.Correlate(wf.Path)
	e.metrics.observeCorrelation(outcome.String())

	if outcome != correlate.Complete {
		e.logger.Debug("dataset incomplete",
			slog.String("path", wf.Path), slog.String("outcome", outcome.String()))

		return e.store.SetStatus(ctx, wf.Path, cache.StatusWaiting)
	}

	blocked, err := e.blockedMember(ctx, ds, wf.Path)
	if err != nil {
		return err
	}

	if blocked {
		return e.store.SetStatus(ctx, wf.Path, cache.StatusWaiting)
	}

	return e.dispatcher.Dispatch(ctx, ds)
}

// blockedMember reports whether ds must not be dispatched now: a member has
// already been dispatched, or a member is held or covered by an active lock
// and the dataset will be re-evaluated when the lock goes away.
func (e *Engine) blockedMember(ctx context.Context, ds correlate.Dataset, trigger string) (bool, error) {
	for _, m := range ds.Members() {
		entry, ok, err := e.store.Get(ctx, m)
		if err != nil {
			return false, err
		}

		if ok && entry.Status.Dispatched() {
			e.logger.Info("dataset already dispatched, skipping",
				slog.String("dataset", ds.Key()),
				slog.String("trigger", trigger),
				slog.String("member", m),
				slog.String("status", entry.Status.String()),
			)

			return true, nil
		}

		if ok && entry.Status == cache.StatusOnHold {
			e.logger.Info("dataset member is on hold, waiting",
				slog.String("dataset", ds.Key()),
				slog.String("member", m),
			)

			return true, nil
		}

		if mwf, ok := e.classifier.Classify(m); ok {
			if lock := e.activeLock(mwf); lock != "" {
				e.logger.Info("dataset member is locked, waiting",
					slog.String("dataset", ds.Key()),
					slog.String("member", m),
					slog.String("lock", lock),
				)

				return true, nil
			}
		}
	}

	return false, nil
}
