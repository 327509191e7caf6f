package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// ErrInsufficientSpace is wrapped by the Failure returned when the output
// volume is below the configured free space floor.
var ErrInsufficientSpace = errors.New("pipeline: insufficient free disk space")

// diskSpace is swapped in tests.
var diskSpace = getDiskSpace

// Throttle wraps next so that at most perMinute exports start per minute.
// A non-positive perMinute returns next unchanged.
func Throttle(next Pipeline, perMinute int) Pipeline {
	if perMinute <= 0 {
		return next
	}

	return &throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

type throttled struct {
	next    Pipeline
	limiter *rate.Limiter
}

func (t *throttled) Export(ctx context.Context, req Request) (Result, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("pipeline: waiting for an export slot: %w", err)
	}

	return t.next.Export(ctx, req)
}

// RequireFreeSpace wraps next so that an export is refused, without running
// the tool, while the volume holding its output directory has less than
// minBytes available. Zero minBytes returns next unchanged.
func RequireFreeSpace(next Pipeline, minBytes uint64, logger *slog.Logger) Pipeline {
	if minBytes == 0 {
		return next
	}

	return &spaceGuard{next: next, minBytes: minBytes, logger: logger}
}

type spaceGuard struct {
	next     Pipeline
	minBytes uint64
	logger   *slog.Logger
}

func (g *spaceGuard) Export(ctx context.Context, req Request) (Result, error) {
	dir := existingAncestor(req.OutputDir)

	avail, err := diskSpace(dir)
	if err != nil {
		// Unknown is not the same as full; let the tool decide.
		g.logger.Warn("cannot determine free disk space",
			slog.String("path", dir), slog.String("error", err.Error()))

		return g.next.Export(ctx, req)
	}

	if avail < g.minBytes {
		return Result{}, &Failure{
			Message: fmt.Sprintf("%s available on %s, %s required",
				humanize.IBytes(avail), dir, humanize.IBytes(g.minBytes)),
			Err: ErrInsufficientSpace,
		}
	}

	return g.next.Export(ctx, req)
}

// existingAncestor returns path or its nearest existing parent. Output
// directories are created by the export, so they usually do not exist yet.
func existingAncestor(path string) string {
	path = filepath.Clean(path)

	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(path)
		if parent == path {
			return path
		}

		path = parent
	}
}
