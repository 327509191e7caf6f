package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

// DefaultCommand is the export tool invocation used when none is configured.
var DefaultCommand = []string{"python", "main.py"}

// Option configures the Command pipeline.
type Option func(*Command)

// WithArgv overrides the program and its leading arguments.
func WithArgv(argv []string) Option {
	return func(c *Command) {
		if len(argv) > 0 {
			c.argv = append([]string(nil), argv...)
		}
	}
}

// WithDir sets the working directory of the export tool.
func WithDir(dir string) Option {
	return func(c *Command) {
		c.dir = dir
	}
}

// WithTimeout bounds a single export. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Command) {
		c.timeout = d
	}
}

// Command runs the export tool as a subprocess:
//
//	<argv...> -mdb <msgstore> -wdb <wa> -o <output> -s <style> -t <types...>
type Command struct {
	argv    []string
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand constructs a Command pipeline using defaults.
func NewCommand(logger *slog.Logger, opts ...Option) *Command {
	c := &Command{
		argv:   append([]string(nil), DefaultCommand...),
		logger: logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Args returns the full argument list for req, excluding the program name.
func (c *Command) Args(req Request) []string {
	args := append([]string(nil), c.argv[1:]...)
	args = append(args, "-mdb", req.MsgStore, "-wdb", req.Contacts, "-o", req.OutputDir)

	if req.Style != "" {
		args = append(args, "-s", string(req.Style))
	}

	if len(req.ConversationTypes) > 0 {
		args = append(args, "-t")
		for _, ct := range req.ConversationTypes {
			args = append(args, string(ct))
		}
	}

	return args
}

// Export runs the tool and waits for it. A non-zero exit status is a
// Failure carrying the trimmed stderr.
func (c *Command) Export(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("pipeline: creating output directory: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := c.Args(req)
	cmd := commandContext(ctx, c.argv[0], args...) //nolint:gosec
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Info("starting export",
		slog.String("program", c.argv[0]),
		slog.String("args", strings.Join(args, " ")),
	)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		return Result{}, c.failure(ctx, runErr, stderr.String(), elapsed)
	}

	artifacts, err := listArtifacts(req.OutputDir)
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("export finished",
		slog.Duration("elapsed", elapsed),
		slog.Int("artifacts", len(artifacts)),
	)

	return Result{Artifacts: artifacts, Output: strings.TrimSpace(stdout.String())}, nil
}

func (c *Command) failure(ctx context.Context, runErr error, stderr string, elapsed time.Duration) error {
	f := &Failure{Message: strings.TrimSpace(stderr), Err: ErrFailed}

	var exitErr *exec.ExitError

	switch {
	case ctx.Err() != nil:
		f.Message = "export timed out or was canceled: " + ctx.Err().Error()
	case errors.As(runErr, &exitErr):
		f.ExitCode = exitErr.ExitCode()
	default:
		f.Message = "starting export: " + runErr.Error()
	}

	if f.Message == "" {
		f.Message = runErr.Error()
	}

	c.logger.Warn("export failed",
		slog.Duration("elapsed", elapsed),
		slog.Int("exit_code", f.ExitCode),
		slog.String("error", f.Message),
	)

	return f
}

var _ Pipeline = (*Command)(nil)
