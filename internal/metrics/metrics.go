// Package metrics aggregates per-endpoint request statistics for the
// management API and exports Prometheus series for scraping. Both views
// are fed from the same Record call in the request path.
package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestMetrics captures metrics for a single request
type RequestMetrics struct {
	Endpoint      string
	QueryName     string
	Database      string
	TotalDuration time.Duration
	QueryDuration time.Duration
	RowCount      int
	StatusCode    int
	Error         string
	CacheHit      bool
}

// EndpointStats aggregates stats for an endpoint
type EndpointStats struct {
	Endpoint      string  `json:"endpoint"`
	QueryName     string  `json:"query_name"`
	RequestCount  int64   `json:"request_count"`
	ErrorCount    int64   `json:"error_count"`
	TotalRows     int64   `json:"total_rows"`
	CacheHits     int64   `json:"cache_hits"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
	MinDurationMs float64 `json:"min_duration_ms"`
	AvgQueryMs    float64 `json:"avg_query_ms"`
}

// RuntimeStats captures Go runtime metrics
type RuntimeStats struct {
	GoVersion     string `json:"go_version"`
	NumGoroutine  int    `json:"goroutines"`
	NumCPU        int    `json:"num_cpu"`
	MemAllocBytes uint64 `json:"mem_alloc_bytes"`
	MemSysBytes   uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"gc_runs"`
}

// Snapshot represents metrics at a point in time
type Snapshot struct {
	Timestamp     time.Time                 `json:"timestamp"`
	UptimeSec     int64                     `json:"uptime_sec"`
	TotalRequests int64                     `json:"total_requests"`
	TotalErrors   int64                     `json:"total_errors"`
	Endpoints     map[string]*EndpointStats `json:"endpoints"`
	Runtime       RuntimeStats              `json:"runtime"`
	Cache         any                       `json:"cache,omitempty"`
}

// CacheSnapshotProvider returns cache metrics for inclusion in snapshots
type CacheSnapshotProvider func() any

// Collector collects metrics
type Collector struct {
	startTime     time.Time
	cacheProvider CacheSnapshotProvider

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	queryDur *prometheus.HistogramVec
	dbUp     *prometheus.GaugeVec

	mu            sync.RWMutex
	totalRequests int64
	totalErrors   int64
	endpoints     map[string]*endpointData
}

type endpointData struct {
	queryName     string
	requestCount  int64
	errorCount    int64
	totalRows     int64
	cacheHits     int64
	totalDuration float64
	totalQueryMs  float64
	maxDuration   float64
	minDuration   float64
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		startTime: time.Now(),
		registry:  reg,
		endpoints: make(map[string]*endpointData),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests dispatched, by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_request_errors_total",
			Help: "Failed requests, by endpoint and error code.",
		}, []string{"endpoint", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		queryDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_query_duration_seconds",
			Help:    "SQL execution latency, by query name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		dbUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_database_up",
			Help: "Database availability: 1 up, 0 down.",
		}, []string{"database"}),
	}

	reg.MustRegister(c.requests, c.errors, c.duration, c.queryDur, c.dbUp)
	return c
}

// SetCacheSnapshotProvider wires the cache metrics into snapshots
func (c *Collector) SetCacheSnapshotProvider(p CacheSnapshotProvider) {
	c.mu.Lock()
	c.cacheProvider = p
	c.mu.Unlock()
}

// Handler returns the Prometheus scrape handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetDatabaseUp records database availability as seen by the health monitor
func (c *Collector) SetDatabaseUp(database string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	c.dbUp.WithLabelValues(database).Set(v)
}

// Record records metrics for a completed request
func (c *Collector) Record(m RequestMetrics) {
	status := statusLabel(m.StatusCode)
	c.requests.WithLabelValues(m.Endpoint, status).Inc()
	c.duration.WithLabelValues(m.Endpoint).Observe(m.TotalDuration.Seconds())
	if m.QueryName != "" {
		c.queryDur.WithLabelValues(m.QueryName).Observe(m.QueryDuration.Seconds())
	}
	if m.Error != "" {
		c.errors.WithLabelValues(m.Endpoint, m.Error).Inc()
	}

	durationMs := float64(m.TotalDuration.Milliseconds())
	queryMs := float64(m.QueryDuration.Milliseconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if m.Error != "" {
		c.totalErrors++
	}

	ep, exists := c.endpoints[m.Endpoint]
	if !exists {
		ep = &endpointData{
			queryName:   m.QueryName,
			minDuration: durationMs,
		}
		c.endpoints[m.Endpoint] = ep
	}

	ep.requestCount++
	ep.totalRows += int64(m.RowCount)
	ep.totalDuration += durationMs
	ep.totalQueryMs += queryMs

	if durationMs > ep.maxDuration {
		ep.maxDuration = durationMs
	}
	if durationMs < ep.minDuration {
		ep.minDuration = durationMs
	}
	if m.Error != "" {
		ep.errorCount++
	}
	if m.CacheHit {
		ep.cacheHits++
	}
}

// Reset clears aggregate counters while keeping registered series.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.totalErrors = 0
	c.endpoints = make(map[string]*endpointData)
}

// GetSnapshot returns the current aggregate view
func (c *Collector) GetSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := &Snapshot{
		Timestamp:     now,
		UptimeSec:     int64(now.Sub(c.startTime).Seconds()),
		TotalRequests: c.totalRequests,
		TotalErrors:   c.totalErrors,
		Endpoints:     make(map[string]*EndpointStats),
		Runtime: RuntimeStats{
			GoVersion:     runtime.Version(),
			NumGoroutine:  runtime.NumGoroutine(),
			NumCPU:        runtime.NumCPU(),
			MemAllocBytes: memStats.Alloc,
			MemSysBytes:   memStats.Sys,
			NumGC:         memStats.NumGC,
		},
	}

	for endpoint, ep := range c.endpoints {
		stats := &EndpointStats{
			Endpoint:      endpoint,
			QueryName:     ep.queryName,
			RequestCount:  ep.requestCount,
			ErrorCount:    ep.errorCount,
			TotalRows:     ep.totalRows,
			CacheHits:     ep.cacheHits,
			MaxDurationMs: ep.maxDuration,
			MinDurationMs: ep.minDuration,
		}
		if ep.requestCount > 0 {
			stats.AvgDurationMs = ep.totalDuration / float64(ep.requestCount)
			stats.AvgQueryMs = ep.totalQueryMs / float64(ep.requestCount)
		}
		snap.Endpoints[endpoint] = stats
	}

	if c.cacheProvider != nil {
		snap.Cache = c.cacheProvider()
	}

	return snap
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
