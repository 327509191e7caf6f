package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/monitor"
)

// exitNotConverged is the exit status of "reconcile" when the attempt
// budget ran out with cache and disk still differing.
const exitNotConverged = 2

// exitError carries a process exit status through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func (e *exitError) ExitCode() int { return e.code }

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and exit",
		Long: `Bring the processing cache in line with the extraction tree without starting
the watcher: interrupted exports are retried, files removed while the monitor
was down are forgotten, and new files are processed as arrivals.

Exits with status 2 when cache and disk still differ after the configured
number of attempts.`,
		Args: cobra.NoArgs,
		RunE: runReconcile,
	}
}

// reconcileOutput is the JSON shape of a reconcile report.
type reconcileOutput struct {
	Attempts   int    `json:"attempts"`
	Converged  bool   `json:"converged"`
	Recovered  int    `json:"recovered"`
	Deleted    int    `json:"deleted"`
	Created    int    `json:"created"`
	DurationMS int64  `json:"duration_ms"`
	WatchDir   string `json:"watch_dir"`
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	rt, err := openRuntime(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.engine.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation: %w", err)
	}

	if err := printReconcileReport(cc, report); err != nil {
		return err
	}

	if !report.Converged {
		return &exitError{
			code: exitNotConverged,
			msg:  fmt.Sprintf("cache did not converge after %d attempts", report.Attempts),
		}
	}

	return nil
}

func printReconcileReport(cc *CLIContext, r monitor.ReconcileReport) error {
	if cc.Flags.JSON {
		return printJSON(cc.Stdout, reconcileOutput{
			Attempts:   r.Attempts,
			Converged:  r.Converged,
			Recovered:  r.Recovered,
			Deleted:    r.Deleted,
			Created:    r.Created,
			DurationMS: r.Duration.Milliseconds(),
			WatchDir:   cc.Cfg.WatchDir,
		})
	}

	state := "converged"
	if !r.Converged {
		state = "NOT converged"
	}

	fmt.Fprintf(cc.Stdout, "Reconciled %s: %s after %d pass(es) in %s\n",
		cc.Cfg.WatchDir, state, r.Attempts, formatDuration(r.Duration))
	fmt.Fprintf(cc.Stdout, "  recovered: %d\n  removed:   %d\n  added:     %d\n",
		r.Recovered, r.Deleted, r.Created)

	return nil
}
