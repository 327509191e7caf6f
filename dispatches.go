package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
)

const defaultDispatchLimit = 20

func newDispatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatches",
		Short: "Show recent export pipeline runs",
		Args:  cobra.NoArgs,
		RunE:  runDispatches,
	}

	cmd.Flags().Int("limit", defaultDispatchLimit, "number of runs to show, newest first")

	return cmd
}

// dispatchOutput is the JSON shape of one dispatch log row.
type dispatchOutput struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset"`
	MsgStore   string    `json:"msgstore"`
	Contacts   string    `json:"contacts"`
	OutputDir  string    `json:"output_dir"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Artifacts  int       `json:"artifacts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func runDispatches(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = defaultDispatchLimit
	}

	store, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListDispatches(ctx, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]dispatchOutput, 0, len(records))
		for _, r := range records {
			out = append(out, toDispatchOutput(r))
		}

		return printJSON(cc.Stdout, out)
	}

	if len(records) == 0 {
		cc.Statusf("No exports have run yet.\n")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			formatTime(r.StartedAt),
			r.DatasetKey,
			string(r.Status),
			strconv.Itoa(r.Artifacts),
			formatDuration(r.FinishedAt.Sub(r.StartedAt)),
			r.Message,
		})
	}

	printTable(cc.Stdout,
		[]string{"STARTED", "DATASET", "RESULT", "ARTIFACTS", "TOOK", "MESSAGE"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)

	return nil
}

func toDispatchOutput(r cache.DispatchRecord) dispatchOutput {
	return dispatchOutput{
		ID:         r.ID,
		Dataset:    r.DatasetKey,
		MsgStore:   r.MsgStorePath,
		Contacts:   r.ContactsPath,
		OutputDir:  r.OutputDir,
		Status:     string(r.Status),
		Message:    r.Message,
		Artifacts:  r.Artifacts,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
