// Package health probes each database pool with its configured test
// query and classifies overall gateway health. The monitor observes
// only; it never rebuilds pools.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"sql-gateway/internal/logging"
	"sql-gateway/internal/pool"
)

// Overall health classification
const (
	StatusUp       = "UP"
	StatusDegraded = "DEGRADED"
	StatusDown     = "DOWN"
)

const (
	// resultTTL caches probe results; pools are probed at most this often
	resultTTL = 30 * time.Second

	// probeDeadline is the hard per-probe deadline
	probeDeadline = 5 * time.Second
)

// CheckResult records one probe of one pool
type CheckResult struct {
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	CheckTime      time.Time `json:"checkTime"`
}

// Monitor runs periodic probes over all declared databases.
type Monitor struct {
	pools     *pool.Manager
	databases []string

	cache *ristretto.Cache // Fresh results, TTL-bounded
	cron  *cron.Cron

	mu       sync.RWMutex
	last     map[string]CheckResult // Last known result, no TTL
	limiters map[string]*rate.Limiter
	degraded bool // Core services failed (set externally)
	onResult func(database string, up bool)
}

// NewMonitor creates a Monitor probing the given database names.
func NewMonitor(pools *pool.Manager, databases []string, interval time.Duration) (*Monitor, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1024,
		MaxCost:     1024,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create health cache: %w", err)
	}

	m := &Monitor{
		pools:     pools,
		databases: append([]string{}, databases...),
		cache:     cache,
		last:      make(map[string]CheckResult),
		limiters:  make(map[string]*rate.Limiter),
	}
	sort.Strings(m.databases)

	for _, name := range m.databases {
		// One probe per TTL window per pool, with a small initial burst
		m.limiters[name] = rate.NewLimiter(rate.Every(resultTTL), 1)
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), m.ProbeAll); err != nil {
		return nil, fmt.Errorf("failed to schedule health probes: %w", err)
	}
	m.cron = c

	return m, nil
}

// OnResult registers a callback invoked after every probe with the
// database name and its availability. Set before Start.
func (m *Monitor) OnResult(fn func(database string, up bool)) {
	m.mu.Lock()
	m.onResult = fn
	m.mu.Unlock()
}

// Start begins the periodic probe loop
func (m *Monitor) Start() {
	m.cron.Start()
	// Prime availability before the first tick fires
	go m.ProbeAll()
}

// Stop halts the probe loop
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// ProbeAll probes every declared database, honoring per-pool floors.
func (m *Monitor) ProbeAll() {
	for _, name := range m.databases {
		m.Check(name)
	}
}

// Check returns the health of one pool, probing if the cached result
// expired and the per-pool probe floor allows it.
func (m *Monitor) Check(name string) CheckResult {
	if v, ok := m.cache.Get(name); ok {
		return v.(CheckResult)
	}

	m.mu.RLock()
	limiter := m.limiters[name]
	lastKnown, hasLast := m.last[name]
	m.mu.RUnlock()

	if limiter != nil && !limiter.Allow() {
		if hasLast {
			return lastKnown
		}
		return CheckResult{Status: StatusDown, Message: "not yet probed", CheckTime: time.Now()}
	}

	return m.probe(name)
}

func (m *Monitor) probe(name string) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), probeDeadline)
	defer cancel()

	start := time.Now()
	err := m.pools.Validate(ctx, name)
	elapsed := time.Since(start)

	result := CheckResult{
		Status:         StatusUp,
		ResponseTimeMs: elapsed.Milliseconds(),
		CheckTime:      time.Now(),
	}
	if err != nil {
		result.Status = StatusDown
		result.Message = err.Error()
		logging.Warn("health_probe_failed", map[string]any{
			"database":    name,
			"error":       err.Error(),
			"duration_ms": elapsed.Milliseconds(),
		})
	} else {
		logging.Debug("health_probe_ok", map[string]any{
			"database":    name,
			"duration_ms": elapsed.Milliseconds(),
		})
	}

	m.cache.SetWithTTL(name, result, 1, resultTTL)
	m.mu.Lock()
	m.last[name] = result
	notify := m.onResult
	m.mu.Unlock()

	if notify != nil {
		notify(name, result.Status == StatusUp)
	}
	return result
}

// SetDegraded flags a core service failure (forces overall DOWN)
func (m *Monitor) SetDegraded(v bool) {
	m.mu.Lock()
	m.degraded = v
	m.mu.Unlock()
}

// Overall is the aggregate health report.
type Overall struct {
	Status    string                 `json:"status"`
	Databases map[string]CheckResult `json:"databases"`
	CheckTime time.Time              `json:"checkTime"`
}

// Snapshot classifies overall health from the last known per-pool
// results: DOWN when core services failed, DEGRADED when at least one
// pool is down, UP otherwise.
func (m *Monitor) Snapshot() Overall {
	m.mu.RLock()
	coreFailed := m.degraded
	results := make(map[string]CheckResult, len(m.last))
	for name, r := range m.last {
		results[name] = r
	}
	m.mu.RUnlock()

	// Databases never probed yet are reported as unknown-down
	for _, name := range m.databases {
		if _, ok := results[name]; !ok {
			results[name] = CheckResult{Status: StatusDown, Message: "not yet probed"}
		}
	}

	status := StatusUp
	if coreFailed {
		status = StatusDown
	} else {
		for _, r := range results {
			if r.Status != StatusUp {
				status = StatusDegraded
				break
			}
		}
	}

	return Overall{
		Status:    status,
		Databases: results,
		CheckTime: time.Now(),
	}
}
