package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
)

// Constants for the fsnotify source.
const (
	DefaultSafetyScanInterval = 5 * time.Minute
	watchErrInitBackoff       = 1 * time.Second
	watchErrMaxBackoff        = 30 * time.Second
	watchErrBackoffMult       = 2
)

// FsWatcher abstracts fsnotify.Watcher for testability.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWrapper adapts *fsnotify.Watcher to FsWatcher.
type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

// Notify reports changes from kernel filesystem notifications. inotify is
// not recursive, so every directory below the root gets its own watch, and
// new directories are scanned right after their watch is registered to
// catch files created in between. A periodic safety scan diffs the whole
// tree against the files reported so far and repairs anything missed.
type Notify struct {
	root   string
	match  MatchFunc
	logger *slog.Logger

	safetyScanInterval time.Duration
	watcherFactory     func() (FsWatcher, error)
	sleepFunc          func(ctx context.Context, d time.Duration) error

	// seen is owned by the Watch goroutine.
	seen snapshot
}

// NewNotify returns a Notify source over root. A non-positive safety
// interval selects DefaultSafetyScanInterval.
func NewNotify(root string, match MatchFunc, safetyScanInterval time.Duration, logger *slog.Logger) *Notify {
	if safetyScanInterval <= 0 {
		safetyScanInterval = DefaultSafetyScanInterval
	}

	return &Notify{
		root:               root,
		match:              match,
		logger:             logger,
		safetyScanInterval: safetyScanInterval,
		watcherFactory:     newFsnotifyWatcher,
		sleepFunc:          timeSleep,
	}
}

// Watch registers watches on the whole tree, reports the difference to
// known, and then streams events until ctx is canceled.
func (n *Notify) Watch(ctx context.Context, known []string, events chan<- Event) error {
	watcher, err := n.watcherFactory()
	if err != nil {
		return fmt.Errorf("watch: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := n.addTree(watcher, n.root); err != nil {
		return err
	}

	n.seen = newSnapshot(known)

	// Watches are in place before the initial scan, so nothing created
	// from here on is missed; duplicates are filtered through seen.
	n.runSafetyScan(ctx, events)

	n.logger.Info("filesystem watch started",
		slog.String("root", n.root),
		slog.Duration("safety_scan_interval", n.safetyScanInterval),
		slog.Int("known", len(known)),
	)

	return n.watchLoop(ctx, watcher, events)
}

// watchLoop is the main select loop for Watch(). It processes fsnotify events,
// watcher errors, safety scan ticks, and context cancellation.
func (n *Notify) watchLoop(ctx context.Context, watcher FsWatcher, events chan<- Event) error {
	safetyTicker := time.NewTicker(n.safetyScanInterval)
	defer safetyTicker.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case fsEvent, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			n.handleFsEvent(ctx, fsEvent, watcher, events)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			n.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Sustained errors (kernel queue overflow) must not spin.
			if sleepErr := n.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-safetyTicker.C:
			n.runSafetyScan(ctx, events)
			errBackoff = watchErrInitBackoff
		}
	}
}

// handleFsEvent turns one fsnotify event into zero or more Events.
func (n *Notify) handleFsEvent(ctx context.Context, fsEvent fsnotify.Event, watcher FsWatcher, events chan<- Event) {
	path := artifact.Normalize(fsEvent.Name)

	switch {
	case fsEvent.Has(fsnotify.Create):
		n.handleCreate(ctx, fsEvent.Name, path, watcher, events)

	case fsEvent.Has(fsnotify.Remove) || fsEvent.Has(fsnotify.Rename):
		n.handleDelete(ctx, path, events)
	}
}

// handleCreate reports a new file, or registers and scans a new directory.
func (n *Notify) handleCreate(ctx context.Context, fsPath, path string, watcher FsWatcher, events chan<- Event) {
	info, err := os.Lstat(fsPath)
	if err != nil {
		// Removed right after creation.
		n.logger.Debug("stat failed for created path",
			slog.String("path", path), slog.String("error", err.Error()))

		return
	}

	if info.IsDir() {
		if addErr := n.addTree(watcher, fsPath); addErr != nil {
			n.logger.Warn("failed to add watch on new directory",
				slog.String("path", path), slog.String("error", addErr.Error()))
		}

		n.scanNewDirectory(ctx, fsPath, events)

		return
	}

	if !info.Mode().IsRegular() {
		return
	}

	n.reportCreate(ctx, path, events)
}

// scanNewDirectory reports matching files already present in a directory
// that was just created (or moved in) together with its contents.
func (n *Notify) scanNewDirectory(ctx context.Context, dirPath string, events chan<- Event) {
	found, err := scanTree(ctx, dirPath, n.match, n.logger)
	if err != nil {
		n.logger.Debug("scan new directory failed",
			slog.String("path", dirPath), slog.String("error", err.Error()))

		return
	}

	paths := make([]string, 0, len(found))
	for p := range found {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	for _, p := range paths {
		n.reportCreate(ctx, p, events)
	}
}

// handleDelete reports the removal of a seen file, or of every seen file
// below a removed directory.
func (n *Notify) handleDelete(ctx context.Context, path string, events chan<- Event) {
	if _, ok := n.seen[path]; ok {
		delete(n.seen, path)
		trySend(ctx, events, Event{Op: Remove, Path: path})

		return
	}

	prefix := path + string(filepath.Separator)

	var removed []string

	for p := range n.seen {
		if strings.HasPrefix(p, prefix) {
			removed = append(removed, p)
		}
	}

	sort.Strings(removed)

	for _, p := range removed {
		delete(n.seen, p)

		if !trySend(ctx, events, Event{Op: Remove, Path: p}) {
			return
		}
	}
}

func (n *Notify) reportCreate(ctx context.Context, path string, events chan<- Event) {
	if !n.match(path) {
		return
	}

	if _, ok := n.seen[path]; ok {
		return
	}

	n.seen[path] = struct{}{}
	trySend(ctx, events, Event{Op: Create, Path: path})
}

// runSafetyScan diffs the full tree against everything reported so far.
func (n *Notify) runSafetyScan(ctx context.Context, events chan<- Event) {
	n.logger.Debug("running safety scan")

	cur, err := scanTree(ctx, n.root, n.match, n.logger)
	if err != nil {
		n.logger.Warn("safety scan failed", slog.String("error", err.Error()))
		return
	}

	changes := diff(n.seen, cur)
	n.seen = cur

	sendAll(ctx, events, changes)

	n.logger.Debug("safety scan complete", slog.Int("events", len(changes)))
}

// addTree registers a watch on dir and every directory below it.
func (n *Notify) addTree(watcher FsWatcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return fmt.Errorf("watch: walking %s: %w", dir, walkErr)
			}

			n.logger.Debug("watch: walk error", slog.String("path", path), slog.String("error", walkErr.Error()))

			return skipEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch: adding watch on %s: %w", path, err)
		}

		return nil
	})
}
