package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show processing cache contents grouped by status",
		Long: `Display whether a monitor is running and how many cached files are in each
processing status. With --status, list the files in that status instead.

Works beside a running monitor; the cache is only read.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().String("status", "", "list files in this status (new, waiting, on_hold, processing, completed, error)")

	return cmd
}

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	Running bool           `json:"running"`
	PID     int            `json:"pid,omitempty"`
	Cache   string         `json:"cache"`
	Counts  map[string]int `json:"counts"`
	Files   []statusFile   `json:"files,omitempty"`
}

type statusFile struct {
	Path      string    `json:"path"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	var filter cache.Status

	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		st, err := cache.ParseStatus(raw)
		if err != nil {
			return err
		}

		filter = st
	}

	pid, err := runningMonitor(pidFilePath(cc.Cfg.CacheDir))
	if err != nil {
		cc.Logger.Warn("could not determine monitor state", slog.String("error", err.Error()))
	}

	store, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		return err
	}

	out := statusOutput{
		Running: pid != 0,
		PID:     pid,
		Cache:   store.Path(),
		Counts:  make(map[string]int, len(counts)),
	}

	for _, st := range cache.AllStatuses {
		out.Counts[string(st)] = counts[st]
	}

	if filter != "" {
		entries, err := store.ListByStatus(ctx, filter)
		if err != nil {
			return err
		}

		for _, e := range entries {
			out.Files = append(out.Files, statusFile{Path: e.Path(), Status: string(e.Status), UpdatedAt: e.UpdatedAt})
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	printStatusText(cc, out, filter)

	return nil
}

func printStatusText(cc *CLIContext, out statusOutput, filter cache.Status) {
	if out.Running {
		fmt.Fprintf(cc.Stdout, "Monitor: running (PID %d)\n", out.PID)
	} else {
		fmt.Fprintln(cc.Stdout, "Monitor: not running")
	}

	fmt.Fprintf(cc.Stdout, "Cache:   %s\n\n", out.Cache)

	if filter != "" {
		if len(out.Files) == 0 {
			fmt.Fprintf(cc.Stdout, "No files in status %s.\n", filter)
			return
		}

		rows := make([][]string, 0, len(out.Files))
		for _, f := range out.Files {
			rows = append(rows, []string{f.Path, formatTime(f.UpdatedAt)})
		}

		printTable(cc.Stdout, []string{"PATH", "UPDATED"}, rows, nil)

		return
	}

	rows := make([][]string, 0, len(cache.AllStatuses)+1)
	total := 0

	for _, st := range cache.AllStatuses {
		n := out.Counts[string(st)]
		total += n
		rows = append(rows, []string{string(st), strconv.Itoa(n)})
	}

	rows = append(rows, []string{"total", strconv.Itoa(total)})

	printTable(cc.Stdout, []string{"STATUS", "FILES"}, rows, []columnAlignment{alignLeft, alignRight})
}
