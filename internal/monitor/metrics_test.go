package monitor

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsEngineActivity(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	var metrics *Metrics

	env := newTestEnv(t, func(cfg *EngineConfig) {
		metrics = NewMetrics(reg, cfg.Store, cfg.Logger)
		cfg.Metrics = metrics
	})

	lock := env.ex.Lock(env.ex.SessionDir("s1"), testLockName)
	env.arrive(t, lock)

	ds := env.ex.WriteDataset("s1", "s1", "loc")
	for _, p := range ds.Paths() {
		env.arrive(t, p)
	}

	env.ex.Remove(lock)
	env.depart(t, lock)

	_, err := env.engine.Reconcile(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 4, promtest.ToFloat64(metrics.holds), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.dispatches.WithLabelValues("completed")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.events.WithLabelValues("create", "lock")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.events.WithLabelValues("remove", "lock")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.reconcileOK), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.reconcilePasses), 0)

	families, err := reg.Gather()
	require.NoError(t, err)

	var completed float64

	for _, mf := range families {
		if mf.GetName() != "extraction_monitor_cache_entries" {
			continue
		}

		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() == "completed" {
				completed = m.GetGauge().GetValue()
			}
		}
	}

	assert.InDelta(t, 4, completed, 0)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics

	assert.NotPanics(t, func() {
		m.observeEvent("create", "data")
		m.observeCorrelation("complete")
		m.observeHold()
		m.observeReconcile(ReconcileReport{Converged: true})
	})
}
