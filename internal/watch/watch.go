// Package watch reports file creations and removals below the watch root.
// Two sources are provided: a Poller that diffs periodic directory
// snapshots, and a Notify source driven by fsnotify with a periodic safety
// scan. Both emit only paths accepted by the caller's filter, and both are
// seeded with the set of files the caller already knows about, so files
// that change between startup reconciliation and the first scan are not
// lost.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
)

// Op is the kind of filesystem change.
type Op int

// Filesystem changes reported by a Source.
const (
	Create Op = iota + 1
	Remove
)

func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Event is one observed change of a watched file.
type Event struct {
	Op   Op
	Path string
}

// Source delivers Events for the watch root until ctx is canceled. known is
// the set of files the caller already has state for: creations of known
// paths are not reported again, and known paths missing on the first scan
// are reported as removed.
type Source interface {
	Watch(ctx context.Context, known []string, events chan<- Event) error
}

// MatchFunc selects the paths a source reports.
type MatchFunc func(path string) bool

// snapshot is the set of matching file paths found by one scan.
type snapshot map[string]struct{}

func newSnapshot(paths []string) snapshot {
	s := make(snapshot, len(paths))
	for _, p := range paths {
		s[artifact.Normalize(p)] = struct{}{}
	}

	return s
}

// scanTree walks root and returns every regular file accepted by match.
// Unreadable entries are logged and skipped; only cancellation aborts.
func scanTree(ctx context.Context, root string, match MatchFunc, logger *slog.Logger) (snapshot, error) {
	found := make(snapshot)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if walkErr != nil {
			// An unreadable root must not look like an empty tree, which
			// would report every known file as removed.
			if path == root {
				return walkErr
			}

			logger.Debug("watch: walk error", slog.String("path", path), slog.String("error", walkErr.Error()))
			return skipEntry(d)
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return skipEntry(d)
		}

		if d.IsDir() {
			return nil
		}

		path = artifact.Normalize(path)
		if match(path) {
			found[path] = struct{}{}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch: scanning %s: %w", root, err)
	}

	return found, nil
}

// Scan returns every file below root accepted by match, sorted.
func Scan(ctx context.Context, root string, match MatchFunc, logger *slog.Logger) ([]string, error) {
	found, err := scanTree(ctx, root, match, logger)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(found))
	for p := range found {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths, nil
}

// diff returns the events that turn prev into cur: removals first, then
// creations, each in path order.
func diff(prev, cur snapshot) []Event {
	var created, removed []string

	for p := range cur {
		if _, ok := prev[p]; !ok {
			created = append(created, p)
		}
	}

	for p := range prev {
		if _, ok := cur[p]; !ok {
			removed = append(removed, p)
		}
	}

	sort.Strings(created)
	sort.Strings(removed)

	events := make([]Event, 0, len(created)+len(removed))
	for _, p := range removed {
		events = append(events, Event{Op: Remove, Path: p})
	}

	for _, p := range created {
		events = append(events, Event{Op: Create, Path: p})
	}

	return events
}

// trySend delivers ev unless ctx is canceled first.
func trySend(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendAll delivers evs in order and stops early on cancellation.
func sendAll(ctx context.Context, events chan<- Event, evs []Event) {
	for _, ev := range evs {
		if !trySend(ctx, events, ev) {
			return
		}
	}
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// skipEntry returns filepath.SkipDir for directories (to skip the subtree)
// or nil for files (to continue the walk with the next entry).
func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
