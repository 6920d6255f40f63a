package config

import (
	"fmt"
	"strings"
	"time"
)

// Parameter types accepted in query and endpoint declarations.
const (
	TypeString    = "STRING"
	TypeInteger   = "INTEGER"
	TypeLong      = "LONG"
	TypeDecimal   = "DECIMAL"
	TypeBoolean   = "BOOLEAN"
	TypeTimestamp = "TIMESTAMP"
)

// ValidParamTypes defines all valid parameter types
var ValidParamTypes = map[string]bool{
	TypeString:    true,
	TypeInteger:   true,
	TypeLong:      true,
	TypeDecimal:   true,
	TypeBoolean:   true,
	TypeTimestamp: true,
}

// Parameter sources for endpoint parameters.
const (
	SourcePath  = "path"
	SourceQuery = "query"
	SourceBody  = "body-field"
)

// ValidParamSources defines where an endpoint parameter may be captured from
var ValidParamSources = map[string]bool{
	SourcePath:  true,
	SourceQuery: true,
	SourceBody:  true,
}

// PoolConfig holds connection pool settings for one logical database.
// Nil pointer fields fall back to the defaults below.
type PoolConfig struct {
	MaxSize             *int   `yaml:"maxSize" json:"maxSize,omitempty"`
	MinIdle             *int   `yaml:"minIdle" json:"minIdle,omitempty"`
	ConnectionTimeoutMs *int   `yaml:"connectionTimeoutMs" json:"connectionTimeoutMs,omitempty"`
	IdleTimeoutMs       *int   `yaml:"idleTimeoutMs" json:"idleTimeoutMs,omitempty"`
	MaxLifetimeMs       *int   `yaml:"maxLifetimeMs" json:"maxLifetimeMs,omitempty"`
	LeakDetectionMs     *int   `yaml:"leakDetectionMs" json:"leakDetectionMs,omitempty"`
	TestQuery           string `yaml:"testQuery" json:"testQuery,omitempty"`
}

const (
	// DefaultPoolMaxSize is the max open connections per pool
	DefaultPoolMaxSize = 10

	// DefaultPoolMinIdle is the idle connections kept per pool
	DefaultPoolMinIdle = 2

	// DefaultConnectionTimeout bounds connection acquisition
	DefaultConnectionTimeout = 30 * time.Second

	// DefaultIdleTimeout is how long idle connections are kept
	DefaultIdleTimeout = 2 * time.Minute

	// DefaultMaxLifetime is how long connections can be reused
	DefaultMaxLifetime = 5 * time.Minute

	// DefaultTestQuery validates a connection during health probes
	DefaultTestQuery = "SELECT 1"
)

// EffectiveMaxSize returns the configured max pool size or the default
func (p *PoolConfig) EffectiveMaxSize() int {
	if p != nil && p.MaxSize != nil && *p.MaxSize > 0 {
		return *p.MaxSize
	}
	return DefaultPoolMaxSize
}

// EffectiveMinIdle returns the configured idle connection count or the default
func (p *PoolConfig) EffectiveMinIdle() int {
	if p != nil && p.MinIdle != nil && *p.MinIdle >= 0 {
		return *p.MinIdle
	}
	return DefaultPoolMinIdle
}

// EffectiveConnectionTimeout returns the acquisition timeout
func (p *PoolConfig) EffectiveConnectionTimeout() time.Duration {
	if p != nil && p.ConnectionTimeoutMs != nil && *p.ConnectionTimeoutMs > 0 {
		return time.Duration(*p.ConnectionTimeoutMs) * time.Millisecond
	}
	return DefaultConnectionTimeout
}

// EffectiveIdleTimeout returns the max idle time for pooled connections
func (p *PoolConfig) EffectiveIdleTimeout() time.Duration {
	if p != nil && p.IdleTimeoutMs != nil && *p.IdleTimeoutMs > 0 {
		return time.Duration(*p.IdleTimeoutMs) * time.Millisecond
	}
	return DefaultIdleTimeout
}

// EffectiveMaxLifetime returns the max lifetime for pooled connections
func (p *PoolConfig) EffectiveMaxLifetime() time.Duration {
	if p != nil && p.MaxLifetimeMs != nil && *p.MaxLifetimeMs > 0 {
		return time.Duration(*p.MaxLifetimeMs) * time.Millisecond
	}
	return DefaultMaxLifetime
}

// EffectiveTestQuery returns the health probe query for this database
func (p *PoolConfig) EffectiveTestQuery() string {
	if p != nil && strings.TrimSpace(p.TestQuery) != "" {
		return p.TestQuery
	}
	return DefaultTestQuery
}

// DatabaseConfig declares one logical database the gateway can execute against.
type DatabaseConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description,omitempty"`
	URL         string      `yaml:"url" json:"url"`
	Username    string      `yaml:"username" json:"username,omitempty"`
	Password    string      `yaml:"password" json:"-"`
	Driver      string      `yaml:"driver" json:"driver"`
	Pool        *PoolConfig `yaml:"pool" json:"pool,omitempty"`
}

// QueryParameter declares one positional parameter of a query.
// Declaration order is authoritative: parameter i binds placeholder i.
type QueryParameter struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
}

// QueryConfig declares one parameterized SQL statement bound to a database.
type QueryConfig struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description,omitempty"`
	SQL         string           `yaml:"sql" json:"sql"`
	Database    string           `yaml:"database" json:"database"`
	Parameters  []QueryParameter `yaml:"parameters" json:"parameters,omitempty"`
}

// PlaceholderCount counts positional placeholders ('?') in the SQL,
// ignoring quoted string literals.
func (q *QueryConfig) PlaceholderCount() int {
	count := 0
	inString := false
	for i := 0; i < len(q.SQL); i++ {
		switch q.SQL[i] {
		case '\'':
			inString = !inString
		case '?':
			if !inString {
				count++
			}
		}
	}
	return count
}

// PaginationConfig controls paged execution of an endpoint.
type PaginationConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	DefaultSize int  `yaml:"defaultSize" json:"defaultSize"`
	MaxSize     int  `yaml:"maxSize" json:"maxSize"`
}

// EndpointParameter declares one request parameter of an endpoint.
// Validate is an optional boolean expression over `value` evaluated
// after type coercion (e.g. "value > 0").
type EndpointParameter struct {
	Name     string `yaml:"name" json:"name"`
	Source   string `yaml:"source" json:"source"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Validate string `yaml:"validate" json:"validate,omitempty"`
}

// ResponseConfig holds optional response shape hints.
type ResponseConfig struct {
	// Type forces the response shape: SINGLE or LIST. Empty = derive
	// from row count (and pagination).
	Type string `yaml:"type" json:"type,omitempty"`
}

// CacheConfig enables per-endpoint response caching.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	TTLSec    int    `yaml:"ttlSec" json:"ttlSec,omitempty"`
	EvictCron string `yaml:"evictCron" json:"evictCron,omitempty"`
}

// EndpointConfig declares one HTTP route bound to a query.
type EndpointConfig struct {
	Name        string              `yaml:"name" json:"name"`
	Path        string              `yaml:"path" json:"path"`
	Method      string              `yaml:"method" json:"method"`
	Description string              `yaml:"description" json:"description,omitempty"`
	Query       string              `yaml:"query" json:"query"`
	CountQuery  string              `yaml:"countQuery" json:"countQuery,omitempty"`
	Pagination  *PaginationConfig   `yaml:"pagination" json:"pagination,omitempty"`
	Parameters  []EndpointParameter `yaml:"parameters" json:"parameters,omitempty"`
	Response    *ResponseConfig     `yaml:"response" json:"response,omitempty"`
	Cache       *CacheConfig        `yaml:"cache" json:"cache,omitempty"`
}

// Paginated reports whether paged execution is enabled for this endpoint
func (e *EndpointConfig) Paginated() bool {
	return e.Pagination != nil && e.Pagination.Enabled
}

// RouteKey returns the unique (method, path) identity of the endpoint
func (e *EndpointConfig) RouteKey() string {
	return fmt.Sprintf("%s %s", strings.ToUpper(e.Method), e.Path)
}
