package monitor

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/correlate"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/pipeline"
)

// DispatcherConfig holds the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Store             *cache.Store
	Pipeline          pipeline.Pipeline
	OutputDir         string
	Style             pipeline.Style
	ConversationTypes []pipeline.ConversationType
	Metrics           *Metrics
	Logger            *slog.Logger
}

// Dispatcher hands a complete dataset to the export pipeline and records
// the outcome on all four member rows.
type Dispatcher struct {
	store     *cache.Store
	pipeline  pipeline.Pipeline
	outputDir string
	style     pipeline.Style
	types     []pipeline.ConversationType
	metrics   *Metrics
	logger    *slog.Logger

	newID   func() string
	nowFunc func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg *DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		store:     cfg.Store,
		pipeline:  cfg.Pipeline,
		outputDir: cfg.OutputDir,
		style:     cfg.Style,
		types:     cfg.ConversationTypes,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		newID:     uuid.NewString,
		nowFunc:   time.Now,
	}
}

// OutputDirFor returns where the export of ds is written:
// {output}/{dossier}/{device}/{session of the msgstore database}.
func (d *Dispatcher) OutputDirFor(ds correlate.Dataset) string {
	session := filepath.Base(filepath.Dir(ds.MsgStore))
	return filepath.Join(d.outputDir, ds.Scope.Dossier, ds.Scope.Device, session)
}

// Dispatch runs the export for ds synchronously. The four member rows go to
// "processing" before the pipeline starts, which is what stops the dataset
// from ever being dispatched twice, and to "completed" or "error" after.
//
// Cancellation of ctx does not interrupt a running export or the status
// writes that follow it: a half-recorded dispatch would be repeated on the
// next start.
func (d *Dispatcher) Dispatch(ctx context.Context, ds correlate.Dataset) error {
	ctx = context.WithoutCancel(ctx)

	members := ds.Members()
	for _, m := range members {
		if err := d.store.Upsert(ctx, m, cache.StatusProcessing); err != nil {
			return err
		}
	}

	req := pipeline.Request{
		MsgStore:          ds.MsgStore,
		Contacts:          ds.Contacts,
		OutputDir:         d.OutputDirFor(ds),
		Style:             d.style,
		ConversationTypes: d.types,
	}

	id := d.newID()
	d.logger.Info("dispatching dataset",
		slog.String("dispatch_id", id),
		slog.String("dataset", ds.Key()),
		slog.String("msgstore", req.MsgStore),
		slog.String("contacts", req.Contacts),
		slog.String("output_dir", req.OutputDir),
	)

	started := d.nowFunc()
	res, exportErr := d.pipeline.Export(ctx, req)
	finished := d.nowFunc()

	status := cache.StatusCompleted
	message := ""

	if exportErr != nil {
		status = cache.StatusError
		message = exportErr.Error()

		if !errors.Is(exportErr, pipeline.ErrFailed) {
			d.logger.Warn("export could not be started", slog.String("error", message))
		}
	}

	var errs []error

	for _, m := range members {
		if err := d.store.Upsert(ctx, m, status); err != nil {
			errs = append(errs, err)
		}
	}

	if err := d.store.RecordDispatch(ctx, cache.DispatchRecord{
		ID:           id,
		DatasetKey:   ds.Key(),
		MsgStorePath: ds.MsgStore,
		ContactsPath: ds.Contacts,
		OutputDir:    req.OutputDir,
		Status:       status,
		Message:      message,
		Artifacts:    len(res.Artifacts),
		StartedAt:    started,
		FinishedAt:   finished,
	}); err != nil {
		errs = append(errs, err)
	}

	d.metrics.observeDispatch(status, finished.Sub(started))

	if exportErr != nil {
		d.logger.Error("export failed",
			slog.String("dispatch_id", id),
			slog.String("dataset", ds.Key()),
			slog.String("error", message),
		)
	} else {
		d.logger.Info("export completed",
			slog.String("dispatch_id", id),
			slog.String("dataset", ds.Key()),
			slog.Int("artifacts", len(res.Artifacts)),
			slog.Duration("elapsed", finished.Sub(started)),
		)
	}

	return errors.Join(errs...)
}
