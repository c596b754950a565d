package retrieval

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the retrieval engine.
type Metrics struct {
	RetrievalsTotal    *prometheus.CounterVec
	RetrievalDuration  prometheus.Histogram
	CandidatesFiltered prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheSize        prometheus.Gauge
}

// NewMetrics creates and registers retrieval metrics.
//
// sync.Once guards registration so repeated construction never panics with a
// duplicate collector error.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RetrievalsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retrieval_requests_total",
					Help: "Total retrieval requests",
				},
				[]string{"outcome"}, // "hit", "miss", "error"
			),

			RetrievalDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "retrieval_duration_seconds",
					Help:    "End-to-end retrieval latency",
					Buckets: prometheus.DefBuckets,
				},
			),

			CandidatesFiltered: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "retrieval_candidates_filtered_total",
					Help: "Vector candidates dropped by metadata, tag or path filters",
				},
			),

			CacheHitsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "retrieval_cache_hits_total",
					Help: "Result cache hits",
				},
			),

			CacheMissesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "retrieval_cache_misses_total",
					Help: "Result cache misses",
				},
			),

			CacheSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "retrieval_cache_size",
					Help: "Current number of cached results",
				},
			),
		}
	})
	return globalMetrics
}
