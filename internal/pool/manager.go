// Package pool manages one connection pool per logical database.
// Pools are created lazily on first use; creation is single-flight so
// concurrent first requests never build duplicate pools.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sql-gateway/internal/apierr"
	"sql-gateway/internal/config"
	"sql-gateway/internal/db"
)

// Availability of a pool as last observed
type Availability string

const (
	Unknown Availability = "UNKNOWN"
	Up      Availability = "UP"
	Down    Availability = "DOWN"
)

// State is a point-in-time snapshot of one pool
type State struct {
	Database     string       `json:"database"`
	Availability Availability `json:"availability"`
	LastError    string       `json:"lastError,omitempty"`
	LastProbe    time.Time    `json:"lastProbe,omitempty"`
	Open         bool         `json:"open"`
}

type poolState struct {
	cfg  config.DatabaseConfig
	conn *sql.DB

	mu           sync.Mutex
	availability Availability
	lastError    string
	lastProbe    time.Time
}

// Manager owns the name -> pool mapping. There is exactly one Manager
// per process, owned by the server lifecycle.
type Manager struct {
	mu       sync.RWMutex
	pools    map[string]*poolState
	creating singleflight.Group
	lookup   func(name string) (config.DatabaseConfig, bool)
	closed   bool
}

// NewManager creates a Manager resolving database definitions through
// the given lookup (normally registry.Database).
func NewManager(lookup func(name string) (config.DatabaseConfig, bool)) *Manager {
	return &Manager{
		pools:  make(map[string]*poolState),
		lookup: lookup,
	}
}

// get returns the pool for name, creating it on first use.
func (m *Manager) get(name string) (*poolState, error) {
	m.mu.RLock()
	ps, ok := m.pools[name]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("pool manager is closed")
	}
	if ok {
		return ps, nil
	}

	v, err, _ := m.creating.Do(name, func() (any, error) {
		// Re-check under the write path; another flight may have won
		m.mu.RLock()
		existing, ok := m.pools[name]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		cfg, ok := m.lookup(name)
		if !ok {
			return nil, apierr.New(apierr.InternalError, "unknown database: %s", name)
		}

		conn, err := db.Open(cfg)
		if err != nil {
			return nil, err
		}

		created := &poolState{
			cfg:          cfg,
			conn:         conn,
			availability: Unknown,
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close()
			return nil, fmt.Errorf("pool manager is closed")
		}
		m.pools[name] = created
		m.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*poolState), nil
}

// Acquire hands out a dedicated connection from the named pool, bounded
// by the pool's connection timeout. A failed acquisition marks the pool
// DOWN and records the cause. The caller must Close the connection on
// every exit path.
func (m *Manager) Acquire(ctx context.Context, name string) (*sql.Conn, error) {
	ps, err := m.get(name)
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, ps.cfg.Pool.EffectiveConnectionTimeout())
	defer cancel()

	conn, err := ps.conn.Conn(acquireCtx)
	if err != nil {
		m.markDown(ps, fmt.Sprintf("failed to acquire connection: %v", err))
		return nil, apierr.Wrap(apierr.ServiceUnavailable, err, "database %s is unavailable", name)
	}
	return conn, nil
}

// Validate acquires a connection and runs the pool's test query.
// Used by the health monitor.
func (m *Manager) Validate(ctx context.Context, name string) error {
	ps, err := m.get(name)
	if err != nil {
		return err
	}

	// Validation acquires get a short fixed timeout so a wedged pool
	// cannot stall the whole probe cycle.
	acquireCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	conn, err := ps.conn.Conn(acquireCtx)
	cancel()
	if err != nil {
		m.markDown(ps, fmt.Sprintf("failed to acquire connection: %v", err))
		return fmt.Errorf("database %s: %w", name, err)
	}
	defer conn.Close()

	testQuery := ps.cfg.Pool.EffectiveTestQuery()
	if _, err := conn.ExecContext(ctx, db.TranslatePlaceholders(ps.cfg.Driver, testQuery)); err != nil {
		m.markDown(ps, fmt.Sprintf("test query failed: %v", err))
		return fmt.Errorf("database %s: test query failed: %w", name, err)
	}

	m.markUp(ps)
	return nil
}

func (m *Manager) markDown(ps *poolState, reason string) {
	ps.mu.Lock()
	ps.availability = Down
	ps.lastError = reason
	ps.lastProbe = time.Now()
	ps.mu.Unlock()
}

func (m *Manager) markUp(ps *poolState) {
	ps.mu.Lock()
	ps.availability = Up
	ps.lastError = ""
	ps.lastProbe = time.Now()
	ps.mu.Unlock()
}

// MarkDown records a probe failure for the named pool (monitor use)
func (m *Manager) MarkDown(name, reason string) {
	m.mu.RLock()
	ps, ok := m.pools[name]
	m.mu.RUnlock()
	if ok {
		m.markDown(ps, reason)
	}
}

// IsAvailable reads cached availability. UNKNOWN counts as available:
// a pool that has never failed is assumed usable until proven otherwise.
func (m *Manager) IsAvailable(name string) bool {
	m.mu.RLock()
	ps, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return true // Not yet created; first use decides
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.availability != Down
}

// FailureReason returns the recorded cause of the last failure, or ""
func (m *Manager) FailureReason(name string) string {
	m.mu.RLock()
	ps, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return ""
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.lastError
}

// Names returns the names of all live pools
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// States returns a snapshot of all live pools for the management API
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]State, len(m.pools))
	for name, ps := range m.pools {
		ps.mu.Lock()
		out[name] = State{
			Database:     name,
			Availability: ps.availability,
			LastError:    ps.lastError,
			LastProbe:    ps.lastProbe,
			Open:         true,
		}
		ps.mu.Unlock()
	}
	return out
}

// Count returns the number of live pools
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Close closes all pools. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for name, ps := range m.pools {
		if err := ps.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close pool %s: %w", name, err)
		}
	}
	m.pools = make(map[string]*poolState)
	return firstErr
}
