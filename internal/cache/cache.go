// Package cache provides a response cache for declared endpoints.
// Entries are rendered response bodies keyed by endpoint name and a
// request fingerprint; per-endpoint TTL and scheduled eviction come
// from the endpoint's cache configuration.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/robfig/cron/v3"

	"sql-gateway/internal/config"
)

const (
	// defaultTTL applies when an endpoint enables caching without a TTL
	defaultTTL = 5 * time.Minute

	ristrettoNumCounters = 1e5
	ristrettoMaxCost     = 64 * 1024 * 1024 // Total cached bytes
	ristrettoBufferItems = 64
)

// Entry is one cached response body
type Entry struct {
	Body        []byte
	ContentType string
	CachedAt    time.Time
}

// Snapshot reports cache effectiveness for the statistics endpoint
type Snapshot struct {
	Enabled   bool                        `json:"enabled"`
	TotalHits int64                       `json:"total_hits"`
	TotalMiss int64                       `json:"total_misses"`
	HitRatio  float64                     `json:"hit_ratio"`
	Endpoints map[string]*EndpointMetrics `json:"endpoints"`
}

// EndpointMetrics contains per-endpoint cache statistics
type EndpointMetrics struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Sets     int64   `json:"sets"`
	HitRatio float64 `json:"hit_ratio"`
}

type endpointCache struct {
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// Cache wraps ristretto with per-endpoint TTL and eviction schedules.
// A nil *Cache is valid and disables caching.
type Cache struct {
	store *ristretto.Cache
	cron  *cron.Cron

	mu        sync.RWMutex
	endpoints map[string]*endpointCache

	totalHits   atomic.Int64
	totalMisses atomic.Int64
}

// New creates a response cache covering the endpoints that enable it.
// Returns nil when no endpoint does.
func New(endpoints map[string]config.EndpointConfig) (*Cache, error) {
	wanted := false
	for _, ep := range endpoints {
		if ep.Cache != nil && ep.Cache.Enabled {
			wanted = true
			break
		}
	}
	if !wanted {
		return nil, nil
	}

	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: ristrettoNumCounters,
		MaxCost:     ristrettoMaxCost,
		BufferItems: ristrettoBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	c := &Cache{
		store:     store,
		cron:      cron.New(),
		endpoints: make(map[string]*endpointCache),
	}

	for name, ep := range endpoints {
		if ep.Cache == nil || !ep.Cache.Enabled {
			continue
		}

		ttl := defaultTTL
		if ep.Cache.TTLSec > 0 {
			ttl = time.Duration(ep.Cache.TTLSec) * time.Second
		}
		c.endpoints[name] = &endpointCache{ttl: ttl}

		if ep.Cache.EvictCron != "" {
			epName := name
			if _, err := c.cron.AddFunc(ep.Cache.EvictCron, func() { c.Clear(epName) }); err != nil {
				store.Close()
				return nil, fmt.Errorf("endpoint %s has an invalid evictCron expression: %w", name, err)
			}
		}
	}

	c.cron.Start()
	return c, nil
}

// Enabled reports whether the endpoint participates in caching
func (c *Cache) Enabled(endpoint string) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	_, ok := c.endpoints[endpoint]
	c.mu.RUnlock()
	return ok
}

// Key fingerprints a merged parameter map deterministically.
func Key(endpoint string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		fmt.Fprintf(&b, "%s=%v;", k, params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return endpoint + ":" + hex.EncodeToString(sum[:16])
}

// Get retrieves a cached response body
func (c *Cache) Get(endpoint, key string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}

	ep := c.endpoint(endpoint)
	if ep == nil {
		return nil, false
	}

	v, found := c.store.Get(key)
	if !found {
		c.totalMisses.Add(1)
		ep.misses.Add(1)
		return nil, false
	}

	entry, ok := v.(*Entry)
	if !ok {
		c.totalMisses.Add(1)
		ep.misses.Add(1)
		return nil, false
	}

	c.totalHits.Add(1)
	ep.hits.Add(1)
	return entry, true
}

// Set stores a response body under the endpoint's TTL
func (c *Cache) Set(endpoint, key string, body []byte, contentType string) {
	if c == nil {
		return
	}

	ep := c.endpoint(endpoint)
	if ep == nil {
		return
	}

	entry := &Entry{
		Body:        body,
		ContentType: contentType,
		CachedAt:    time.Now(),
	}
	c.store.SetWithTTL(key, entry, int64(len(body)), ep.ttl)
	ep.sets.Add(1)
}

// Clear drops every entry for the endpoint. Keys embed the endpoint
// name but ristretto has no prefix scan, so a full clear is the only
// schedulable eviction; entry TTLs bound the cost of rebuilding.
func (c *Cache) Clear(endpoint string) {
	if c == nil {
		return
	}
	c.store.Clear()
}

// GetSnapshot returns current cache metrics
func (c *Cache) GetSnapshot() *Snapshot {
	if c == nil {
		return &Snapshot{Enabled: false}
	}

	hits := c.totalHits.Load()
	misses := c.totalMisses.Load()

	snap := &Snapshot{
		Enabled:   true,
		TotalHits: hits,
		TotalMiss: misses,
		Endpoints: make(map[string]*EndpointMetrics),
	}
	if hits+misses > 0 {
		snap.HitRatio = float64(hits) / float64(hits+misses)
	}

	c.mu.RLock()
	for name, ep := range c.endpoints {
		h := ep.hits.Load()
		m := ep.misses.Load()
		em := &EndpointMetrics{
			Hits:   h,
			Misses: m,
			Sets:   ep.sets.Load(),
		}
		if h+m > 0 {
			em.HitRatio = float64(h) / float64(h+m)
		}
		snap.Endpoints[name] = em
	}
	c.mu.RUnlock()

	return snap
}

// Close stops the eviction schedules and releases the store
func (c *Cache) Close() {
	if c == nil {
		return
	}
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.store.Close()
}

func (c *Cache) endpoint(name string) *endpointCache {
	c.mu.RLock()
	ep := c.endpoints[name]
	c.mu.RUnlock()
	return ep
}
