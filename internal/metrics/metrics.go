package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes recorded by ObserveFetch.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultCached  = "cached"
)

// Collector holds the service's Prometheus instruments. A nil *Collector is
// valid and records nothing, so components can be built without metrics.
type Collector struct {
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	passes        prometheus.Counter
	skippedPasses prometheus.Counter
	inFlight      prometheus.Gauge
	sessions      prometheus.Gauge
	visibleCells  prometheus.Histogram
}

// New registers all instruments on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "globe",
			Name:      "cell_fetches_total",
			Help:      "Historical cell fetches by result.",
		}, []string{"result"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "globe",
			Name:      "cell_fetch_duration_seconds",
			Help:      "Latency of upstream archive requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "globe",
			Name:      "cache_lookups_total",
			Help:      "Aggregate cache lookups by outcome.",
		}, []string{"outcome"}),
		passes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "globe",
			Name:      "schedule_passes_total",
			Help:      "Scheduling passes run.",
		}),
		skippedPasses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "globe",
			Name:      "schedule_passes_skipped_total",
			Help:      "Scheduling passes skipped by the request storm guard.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "globe",
			Name:      "cell_fetches_in_flight",
			Help:      "Cells with an outstanding request.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "globe",
			Name:      "sessions_active",
			Help:      "Open viewer sessions.",
		}),
		visibleCells: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "globe",
			Name:      "visible_cells",
			Help:      "Cells selected per visibility pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// ObserveFetch records one fetch outcome; seconds is ignored for cached results.
func (c *Collector) ObserveFetch(result string, seconds float64) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(result).Inc()
	if result != ResultCached {
		c.fetchDuration.Observe(seconds)
	}
}

func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues("hit").Inc()
}

func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

func (c *Collector) Pass(skipped bool) {
	if c == nil {
		return
	}
	c.passes.Inc()
	if skipped {
		c.skippedPasses.Inc()
	}
}

func (c *Collector) InFlight(delta float64) {
	if c == nil {
		return
	}
	c.inFlight.Add(delta)
}

func (c *Collector) Sessions(n int) {
	if c == nil {
		return
	}
	c.sessions.Set(float64(n))
}

func (c *Collector) VisibleCells(n int) {
	if c == nil {
		return
	}
	c.visibleCells.Observe(float64(n))
}
