package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/cache"
)

const (
	metricsNamespace = "extraction_monitor"
	cacheScrapeLimit = 5 * time.Second
)

// Metrics holds the monitor's Prometheus collectors. All collectors are
// registered on the registry given to NewMetrics, never on the global
// default, so tests and multiple engines do not collide. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	events           *prometheus.CounterVec
	correlations     *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	holds            prometheus.Counter
	reconcilePasses  prometheus.Gauge
	reconcileOK      prometheus.Gauge
}

// NewMetrics registers the monitor collectors on reg. When store is non-nil
// a collector reporting cache rows per status is registered too; it queries
// the cache on every scrape.
func NewMetrics(reg prometheus.Registerer, store *cache.Store, logger *slog.Logger) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "Filesystem events handled, by operation and file kind",
			},
			[]string{"op", "kind"},
		),

		correlations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "correlations_total",
				Help:      "Dataset correlation attempts by outcome",
			},
			[]string{"outcome"},
		),

		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatches_total",
				Help:      "Export pipeline invocations by result",
			},
			[]string{"result"}, // completed, error
		),

		dispatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Wall time of export pipeline invocations",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600}, // 1s .. 1h
			},
		),

		holds: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lock_holds_total",
				Help:      "Files put on hold because a lock marker covered them",
			},
		),

		reconcilePasses: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "reconcile_passes",
				Help:      "Diff-and-replay passes run by the last startup reconciliation",
			},
		),

		reconcileOK: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "reconcile_converged",
				Help:      "1 if the last startup reconciliation converged, 0 otherwise",
			},
		),
	}

	if store != nil {
		reg.MustRegister(&cacheCollector{store: store, logger: logger, desc: cacheEntriesDesc})
	}

	return m
}

func (m *Metrics) observeEvent(op, kind string) {
	if m == nil {
		return
	}

	m.events.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) observeCorrelation(outcome string) {
	if m == nil {
		return
	}

	m.correlations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDispatch(status cache.Status, d time.Duration) {
	if m == nil {
		return
	}

	m.dispatches.WithLabelValues(string(status)).Inc()
	m.dispatchDuration.Observe(d.Seconds())
}

func (m *Metrics) observeHold() {
	if m == nil {
		return
	}

	m.holds.Inc()
}

func (m *Metrics) observeReconcile(r ReconcileReport) {
	if m == nil {
		return
	}

	m.reconcilePasses.Set(float64(r.Attempts))

	if r.Converged {
		m.reconcileOK.Set(1)
	} else {
		m.reconcileOK.Set(0)
	}
}

var cacheEntriesDesc = prometheus.NewDesc(
	prometheus.BuildFQName(metricsNamespace, "", "cache_entries"),
	"Processing cache rows by status",
	[]string{"status"}, nil,
)

// cacheCollector reads row counts straight from the cache at scrape time.
type cacheCollector struct {
	store  *cache.Store
	logger *slog.Logger
	desc   *prometheus.Desc
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheScrapeLimit)
	defer cancel()

	counts, err := c.store.Counts(ctx)
	if err != nil {
		c.logger.Warn("metrics: counting cache entries failed", slog.String("error", err.Error()))
		return
	}

	for _, st := range cache.AllStatuses {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[st]), string(st))
	}
}
