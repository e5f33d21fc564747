// Package metrics provides Prometheus metrics for the DOM storage engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the DOM storage engine
type Metrics struct {
	// Cache metrics, labeled by cache name ("btree" or "data")
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheResidentTotal  *prometheus.GaugeVec

	// Page file metrics
	PageReadsTotal      prometheus.Counter
	PageWritesTotal      prometheus.Counter
	PageAllocationsTotal prometheus.Counter
	FreeListPopsTotal    prometheus.Counter
	FreeListPushesTotal  prometheus.Counter

	// Lock metrics, labeled by mode ("shared" or "exclusive")
	LockAcquisitionsTotal *prometheus.CounterVec
	LockTimeoutsTotal     *prometheus.CounterVec
	LockWaitDuration      *prometheus.HistogramVec

	// Record store metrics, labeled by operation
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// B+-tree metrics, labeled by operation
	BTreeOperationsTotal   *prometheus.CounterVec
	BTreeOperationDuration *prometheus.HistogramVec
	BTreeHeight            prometheus.Gauge

	// Engine metrics
	EngineUptimeSeconds prometheus.Gauge
	EngineStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		EngineStartTime: time.Now(),
	}

	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domstore_cache_hits_total",
			Help: "Total number of page cache hits",
		},
		[]string{"cache"},
	)

	m.CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domstore_cache_misses_total",
			Help: "Total number of page cache misses",
		},
		[]string{"cache"},
	)

	m.CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domstore_cache_evictions_total",
			Help: "Total number of page cache evictions",
		},
		[]string{"cache"},
	)

	m.CacheResidentTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "domstore_cache_resident_total",
			Help: "Number of pages currently resident in cache",
		},
		[]string{"cache"},
	)

	m.PageReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "domstore_page_reads_total",
			Help: "Total number of page reads from disk",
		},
	)

	m.PageWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "domstore_page_writes_total",
			Help: "Total number of page writes to disk",
		},
	)

	m.PageAllocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "domstore_page_allocations_total",
			Help: "Total number of new pages allocated (file extension)",
		},
	)

	m.FreeListPopsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "domstore_free_list_pops_total",
			Help: "Total number of pages reused from the free list",
		},
	)

	m.FreeListPushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "domstore_free_list_pushes_total",
			Help: "Total number of pages returned to the free list",
		},
	)

	m.LockAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domstore_lock_acquisitions_total",
			Help: "Total number of engine lock acquisitions",
		},
		[]string{"mode"},
	)

	m.LockTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domstore_lock_timeouts_total",
			Help: "Total number of engine lock acquisition timeouts",
		},
		[]string{"mode"},
	)

	m.LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "domstore_lock_wait_duration_seconds",
			Help:    "Duration spent waiting to acquire the engine lock",
			Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	m.StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domstore_store_operations_total",
			Help: "Total number of record store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "domstore_store_operation_duration_seconds",
			Help:    "Duration of record store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.BTreeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domstore_btree_operations_total",
			Help: "Total number of B+-tree operations",
		},
		[]string{"operation", "status"},
	)

	m.BTreeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "domstore_btree_operation_duration_seconds",
			Help:    "Duration of B+-tree operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.BTreeHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "domstore_btree_height",
			Help: "Current height of the B+-tree index",
		},
	)

	m.EngineUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "domstore_engine_uptime_seconds",
			Help: "Engine uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the engine uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.EngineUptimeSeconds.Set(time.Since(m.EngineStartTime).Seconds())
	}
}

// RecordCacheHit records a page cache hit for the named cache.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a page cache miss for the named cache.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordCacheEviction records a page cache eviction for the named cache.
func (m *Metrics) RecordCacheEviction(cache string) {
	m.CacheEvictionsTotal.WithLabelValues(cache).Inc()
}

// RecordLockAcquisition records a lock acquisition in the given mode,
// along with how long the caller waited for it.
func (m *Metrics) RecordLockAcquisition(mode string, wait time.Duration) {
	m.LockAcquisitionsTotal.WithLabelValues(mode).Inc()
	m.LockWaitDuration.WithLabelValues(mode).Observe(wait.Seconds())
}

// RecordLockTimeout records a lock acquisition that timed out.
func (m *Metrics) RecordLockTimeout(mode string) {
	m.LockTimeoutsTotal.WithLabelValues(mode).Inc()
}

// RecordStoreOperation records a record store operation's outcome and duration.
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBTreeOperation records a B+-tree operation's outcome and duration.
func (m *Metrics) RecordBTreeOperation(operation string, status string, duration time.Duration) {
	m.BTreeOperationsTotal.WithLabelValues(operation, status).Inc()
	m.BTreeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
