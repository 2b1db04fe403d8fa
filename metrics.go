package offlinecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the cache.
// All record methods are safe to call on a nil receiver.
type Metrics struct {
	requests    *prometheus.CounterVec
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	unavailable prometheus.Counter
	queueDepth  prometheus.Gauge
}

// NewMetrics registers the cache metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_cache_requests_total",
			Help: "Requests handled, by resolved strategy.",
		}, []string{"strategy"}),
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_cache_hits_total",
			Help: "Requests served from the cache, by partition.",
		}, []string{"partition"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_cache_misses_total",
			Help: "Cache lookups that found no entry, by partition.",
		}, []string{"partition"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_cache_refreshes_total",
			Help: "Background refreshes, by result.",
		}, []string{"result"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_cache_evictions_total",
			Help: "Entries evicted, by partition and reason.",
		}, []string{"partition", "reason"}),
		unavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "offline_cache_unavailable_total",
			Help: "Synthesized unavailable responses returned.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "offline_cache_queue_depth",
			Help: "Requests currently waiting in the retry queue.",
		}),
	}
}

func (m *Metrics) RecordRequest(strategy Strategy) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(strategy)).Inc()
}

func (m *Metrics) RecordHit(partition string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(partition).Inc()
}

func (m *Metrics) RecordMiss(partition string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(partition).Inc()
}

func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEviction(partition, reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(partition, reason).Inc()
}

func (m *Metrics) RecordUnavailable() {
	if m == nil {
		return
	}
	m.unavailable.Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
