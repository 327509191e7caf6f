package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
)

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset [PATH...]",
		Short: "Forget cached files so the next reconciliation replays them",
		Long: `Delete rows from the processing cache. Files that are still on disk are then
treated as new arrivals by the next reconciliation ("reconcile" or "run"),
which is how a dataset whose export failed is retried.

Select rows with --status, by path, or both. The monitor must not be running.`,
		Example: `  extraction-monitor reset --status error
  extraction-monitor reset /data/in/D1/DEV1/s1/1-msgstore.db`,
		RunE: runReset,
	}

	cmd.Flags().String("status", "", "delete every row in this status")

	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	rawStatus, _ := cmd.Flags().GetString("status")
	if rawStatus == "" && len(args) == 0 {
		return errors.New("nothing to reset: pass --status or at least one PATH")
	}

	unlock, err := writePIDFile(pidFilePath(cc.Cfg.CacheDir))
	if err != nil {
		return err
	}
	defer unlock()

	store, err := cache.Open(ctx, cc.Cfg.CachePath(), cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var removed int64

	if rawStatus != "" {
		st, err := cache.ParseStatus(rawStatus)
		if err != nil {
			return err
		}

		n, err := store.RemoveByStatus(ctx, st)
		if err != nil {
			return err
		}

		removed += n
	}

	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", arg, err)
		}

		known, err := store.IsKnown(ctx, path)
		if err != nil {
			return err
		}

		if !known {
			cc.Statusf("Not cached: %s\n", path)
			continue
		}

		if err := store.Remove(ctx, path); err != nil {
			return err
		}

		removed++
	}

	cc.Logger.Info("cache reset", slog.Int64("rows", removed), slog.String("status", rawStatus))
	cc.Statusf("Removed %d cache row(s). Run 'extraction-monitor reconcile' to replay them.\n", removed)

	return nil
}
