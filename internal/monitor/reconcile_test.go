package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/pipeline"
)

// Scenario D: restart with a complete dataset on disk and an empty cache.
func TestReconcile_DispatchesFilesAddedWhileStopped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ds := env.ex.WriteDataset("s1", "s2", "loc")

	report, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Converged)
	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, 4, report.Created)
	assert.Zero(t, report.Deleted)

	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, ds.Paths()...)
}

func TestReconcile_RemovesStaleRows(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	wa := env.write(t, "s1", "wa", "")
	env.arrive(t, wa)
	env.ex.Remove(wa)

	report, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Converged)
	assert.Equal(t, 1, report.Deleted)
	assert.False(t, env.known(t, wa))
}

func TestReconcile_CleanCacheConvergesImmediately(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	report, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Converged)
	assert.Equal(t, 1, report.Attempts)
	assert.Empty(t, env.pipe.requests())
}

func TestReconcile_RemovedLockReleasesHeldFiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)

	ds := env.ex.WriteDataset("s1", "s1", "loc")
	for _, p := range ds.Paths() {
		env.arrive(t, p)
	}

	env.requireStatus(t, cache.StatusOnHold, ds.Paths()...)

	// Lock removed while the monitor was down.
	env.ex.Remove(lock)

	report, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Converged)
	assert.Equal(t, 1, report.Deleted)
	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, ds.Paths()...)
}

func TestReconcile_RecoversInterruptedExport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	ds := env.ex.WriteDataset("s1", "s2", "loc")
	for _, p := range ds.Paths() {
		require.NoError(t, env.store.Upsert(ctx, p, cache.StatusProcessing))
	}

	report, err := env.engine.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Recovered)
	assert.True(t, report.Converged)
	require.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, ds.Paths()...)
}

func TestReconcile_AttemptBudgetExhausted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *EngineConfig) { cfg.ReconcileAttempts = 1 })
	ds := env.ex.WriteDataset("s1", "s2", "loc")

	report, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Converged)
	assert.Equal(t, 1, report.Attempts)
	assert.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusCompleted, ds.Paths()...)
}

func TestReconcile_FailedExportIsNotRetried(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.pipe.err = &pipeline.Failure{Message: "boom", Err: pipeline.ErrFailed}

	ds := env.ex.WriteDataset("s1", "s1", "loc")

	_, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	_, err = env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Len(t, env.pipe.requests(), 1)
	env.requireStatus(t, cache.StatusError, ds.Paths()...)
}

func TestReconcile_MissingWatchRoot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, os.RemoveAll(env.ex.Root))

	_, err := env.engine.Reconcile(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "scanning watch root")
}

func TestReconcile_IgnoresUnwatchedFiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.ex.Root, "notes.txt"), []byte("x"), 0o644))

	report, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Created)
	assert.Equal(t, 0, env.rows(t))
}
