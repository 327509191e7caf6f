package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a fully
// resolved configuration ("config init" writes the file others need).
const skipConfigAnnotation = "skip-config"

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	EnvFile    string
	WatchDir   string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once in PersistentPreRunE and handed to every
// subcommand through the command context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config // nil for commands with skipConfigAnnotation
	CfgPath string
	Logger  *slog.Logger
	Stdout  io.Writer
	Stderr  io.Writer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// command runs after that hook, so a missing value is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:   "extraction-monitor",
		Short: "Watch forensic extraction trees and export complete chat backups",
		Long: `Watches a tree of forensic extraction output for WhatsApp database files and
their metadata sidecars. When the message store and contacts database of one
device location are both present, the export tool is run once for the pair.

Processing state survives restarts in a SQLite cache; a reconciliation pass on
startup replays whatever changed while the monitor was down.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := buildCLIContext(cmd, *flags)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.EnvFile, "env-file", "", "load environment variables from this file (default ./.env if present)")
	pf.StringVar(&flags.WatchDir, "watch-dir", "", "root of the extraction tree (overrides config)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newDispatchesCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// buildCLIContext loads the .env file, resolves configuration and builds
// the logger for one command invocation.
func buildCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{
		Flags:  flags,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}

	// Until the config is known, log with flag-derived settings only.
	boot := buildLogger(cc.Stderr, config.LoggingConfig{}, flags)

	if err := config.LoadEnvFile(flags.EnvFile, boot); err != nil {
		return nil, err
	}

	env := config.ReadEnvOverrides(boot)

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath, EnvFile: flags.EnvFile}
	if cmd.Flags().Changed("watch-dir") {
		cli.WatchDir = &flags.WatchDir
	}

	cc.CfgPath = config.ConfigPath(env, cli)

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.Logger = boot
		return cc, nil
	}

	cfg, err := config.Resolve(env, cli, boot)
	if err != nil {
		return nil, err
	}

	cc.Cfg = cfg
	cc.Logger = buildLogger(cc.Stderr, cfg.Logging, flags)

	return cc, nil
}

// buildLogger creates the process logger. The configured level is the
// baseline; --verbose and --quiet override it. Format "auto" picks text
// on a terminal and JSON otherwise.
func buildLogger(w io.Writer, lc config.LoggingConfig, flags CLIFlags) *slog.Logger {
	level := parseLevel(lc.LogLevel)

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(w, lc.LogFormat) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func useJSONLogs(w io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isTerminal(w)
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// exitCoder is implemented by errors that carry a process exit status.
type exitCoder interface {
	ExitCode() int
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var ec exitCoder
	if errors.As(err, &ec) {
		os.Exit(ec.ExitCode())
	}

	os.Exit(1)
}
