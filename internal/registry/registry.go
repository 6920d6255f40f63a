// Package registry holds the validated, immutable set of configurations
// the gateway serves from. The three kinds form a strict DAG
// (endpoint -> query -> database), kept as plain maps plus reverse
// indices built once at load.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sql-gateway/internal/apierr"
	"sql-gateway/internal/config"
	"sql-gateway/internal/db"
	"sql-gateway/internal/source"
)

// Registry is immutable after Build; readable without synchronization.
// A reload is an atomic swap of the whole Registry reference.
type Registry struct {
	sourceName string

	databases map[string]config.DatabaseConfig
	queries   map[string]config.QueryConfig
	endpoints map[string]config.EndpointConfig

	// Reverse indices: databaseName -> queryNames, queryName -> endpointNames
	queriesByDatabase map[string][]string
	endpointsByQuery  map[string][]string

	warnings []string
}

// Report aggregates validation findings. Errors halt startup; warnings
// are logged and retrievable through the management API.
type Report struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether the registry passed validation
func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Report) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Build loads the three maps from src and validates them. A non-valid
// report is returned together with a ConfigurationError.
func Build(ctx context.Context, src source.Source) (*Registry, *Report, error) {
	databases, dbWarnings, err := src.LoadDatabases(ctx)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.ConfigurationError, err, "failed to load databases")
	}
	queries, queryWarnings, err := src.LoadQueries(ctx)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.ConfigurationError, err, "failed to load queries")
	}
	endpoints, endpointWarnings, err := src.LoadEndpoints(ctx)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.ConfigurationError, err, "failed to load endpoints")
	}

	reg := &Registry{
		sourceName: src.Name(),
		databases:  databases,
		queries:    queries,
		endpoints:  endpoints,
	}

	report := reg.Validate()
	report.Warnings = append(append(append(append([]string{}, dbWarnings...),
		queryWarnings...), endpointWarnings...), report.Warnings...)
	reg.warnings = report.Warnings

	if !report.Valid() {
		return nil, report, apierr.New(apierr.ConfigurationError,
			"configuration validation failed with %d error(s)", len(report.Errors))
	}

	reg.buildIndices()
	return reg, report, nil
}

// Validate runs structural checks, referential integrity and pagination
// coherence over the three maps.
func (r *Registry) Validate() *Report {
	report := &Report{}

	r.validateDatabases(report)
	r.validateQueries(report)
	r.validateEndpoints(report)

	return report
}

func (r *Registry) validateDatabases(report *Report) {
	for name, cfg := range r.databases {
		prefix := fmt.Sprintf("database %q", name)

		if strings.TrimSpace(cfg.URL) == "" {
			report.addError("%s: url is required", prefix)
		}
		if cfg.Driver == "" {
			report.addError("%s: driver is required", prefix)
		} else if !db.ValidDrivers[cfg.Driver] {
			report.addError("%s: unknown driver %q", prefix, cfg.Driver)
		}
	}
}

func (r *Registry) validateQueries(report *Report) {
	for name, cfg := range r.queries {
		prefix := fmt.Sprintf("query %q", name)

		if strings.TrimSpace(cfg.SQL) == "" {
			report.addError("%s: sql is required", prefix)
		}
		if cfg.Database == "" {
			report.addError("%s: database is required", prefix)
		} else if _, ok := r.databases[cfg.Database]; !ok {
			report.addError("%s references non-existent database: %s", prefix, cfg.Database)
		}

		seen := make(map[string]bool)
		for i, p := range cfg.Parameters {
			if p.Name == "" {
				report.addError("%s: parameters[%d]: name is required", prefix, i)
				continue
			}
			if seen[p.Name] {
				report.addError("%s: duplicate parameter name %q", prefix, p.Name)
			}
			seen[p.Name] = true

			if !config.ValidParamTypes[p.Type] {
				report.addError("%s: parameter %q has invalid type %q", prefix, p.Name, p.Type)
			}
		}

		if n := cfg.PlaceholderCount(); n != len(cfg.Parameters) {
			report.addError("%s: sql has %d placeholder(s) but %d parameter(s) declared",
				prefix, n, len(cfg.Parameters))
		}
	}
}

func (r *Registry) validateEndpoints(report *Report) {
	routes := make(map[string]string)

	for name, cfg := range r.endpoints {
		prefix := fmt.Sprintf("endpoint %q", name)

		if cfg.Path == "" {
			report.addError("%s: path is required", prefix)
		} else if !strings.HasPrefix(cfg.Path, "/") {
			report.addError("%s: path must start with '/'", prefix)
		}
		if cfg.Method != "GET" && cfg.Method != "POST" {
			report.addError("%s: method must be GET or POST", prefix)
		}

		if cfg.Query == "" {
			report.addError("%s: query is required", prefix)
		} else if _, ok := r.queries[cfg.Query]; !ok {
			report.addError("%s references non-existent query: %s", prefix, cfg.Query)
		}
		if cfg.CountQuery != "" {
			if _, ok := r.queries[cfg.CountQuery]; !ok {
				report.addError("%s references non-existent count query: %s", prefix, cfg.CountQuery)
			}
		}

		// Endpoint (method, path) pairs must be unique
		if cfg.Path != "" {
			key := cfg.RouteKey()
			if existing, dup := routes[key]; dup {
				report.addError("%s: route %s already used by endpoint %q", prefix, key, existing)
			}
			routes[key] = name
		}

		for i, p := range cfg.Parameters {
			if p.Name == "" {
				report.addError("%s: parameters[%d]: name is required", prefix, i)
				continue
			}
			if p.Type != "" && !config.ValidParamTypes[p.Type] {
				report.addError("%s: parameter %q has invalid type %q", prefix, p.Name, p.Type)
			}
			if p.Source != "" && !config.ValidParamSources[p.Source] {
				report.addError("%s: parameter %q has invalid source %q", prefix, p.Name, p.Source)
			}
		}

		r.validatePagination(cfg, prefix, report)
	}
}

func (r *Registry) validatePagination(cfg config.EndpointConfig, prefix string, report *Report) {
	p := cfg.Pagination
	if p == nil {
		return
	}
	if !p.Enabled {
		return
	}

	if p.DefaultSize <= 0 {
		report.addError("%s: pagination.defaultSize must be > 0", prefix)
	}
	if p.MaxSize <= 0 {
		report.addError("%s: pagination.maxSize must be > 0", prefix)
	}
	if p.DefaultSize > 0 && p.MaxSize > 0 && p.DefaultSize > p.MaxSize {
		report.addError("%s: pagination.defaultSize (%d) must be <= maxSize (%d)",
			prefix, p.DefaultSize, p.MaxSize)
	}

	// A paginated endpoint without a count query still works; total
	// counts then reflect only the fetched page.
	if cfg.CountQuery == "" {
		report.addWarning("%s: pagination enabled but no countQuery configured; totalElements will reflect the fetched page only", prefix)
	}

	// The target query must consume trailing limit and offset parameters
	if q, ok := r.queries[cfg.Query]; ok {
		n := len(q.Parameters)
		if n < 2 || q.Parameters[n-2].Name != "limit" || q.Parameters[n-1].Name != "offset" {
			report.addError("%s: pagination enabled but query %q does not declare trailing 'limit' and 'offset' parameters", prefix, cfg.Query)
		}
	}
}

func (r *Registry) buildIndices() {
	r.queriesByDatabase = make(map[string][]string)
	r.endpointsByQuery = make(map[string][]string)

	for name, q := range r.queries {
		r.queriesByDatabase[q.Database] = append(r.queriesByDatabase[q.Database], name)
	}
	for name, e := range r.endpoints {
		r.endpointsByQuery[e.Query] = append(r.endpointsByQuery[e.Query], name)
		if e.CountQuery != "" && e.CountQuery != e.Query {
			r.endpointsByQuery[e.CountQuery] = append(r.endpointsByQuery[e.CountQuery], name)
		}
	}
	for _, names := range r.queriesByDatabase {
		sort.Strings(names)
	}
	for _, names := range r.endpointsByQuery {
		sort.Strings(names)
	}
}

// SourceName returns the identifier of the source the registry was built from
func (r *Registry) SourceName() string {
	return r.sourceName
}

// Database looks up one database definition
func (r *Registry) Database(name string) (config.DatabaseConfig, bool) {
	cfg, ok := r.databases[name]
	return cfg, ok
}

// Query looks up one query definition
func (r *Registry) Query(name string) (config.QueryConfig, bool) {
	cfg, ok := r.queries[name]
	return cfg, ok
}

// Endpoint looks up one endpoint definition
func (r *Registry) Endpoint(name string) (config.EndpointConfig, bool) {
	cfg, ok := r.endpoints[name]
	return cfg, ok
}

// Databases returns the database map (callers must not mutate)
func (r *Registry) Databases() map[string]config.DatabaseConfig {
	return r.databases
}

// Queries returns the query map (callers must not mutate)
func (r *Registry) Queries() map[string]config.QueryConfig {
	return r.queries
}

// Endpoints returns the endpoint map (callers must not mutate)
func (r *Registry) Endpoints() map[string]config.EndpointConfig {
	return r.endpoints
}

// QueriesForDatabase answers the reverse relationship database -> queries
func (r *Registry) QueriesForDatabase(name string) []string {
	return r.queriesByDatabase[name]
}

// EndpointsForQuery answers the reverse relationship query -> endpoints
func (r *Registry) EndpointsForQuery(name string) []string {
	return r.endpointsByQuery[name]
}

// Counts returns (databases, queries, endpoints) cardinalities
func (r *Registry) Counts() (int, int, int) {
	return len(r.databases), len(r.queries), len(r.endpoints)
}

// Warnings returns the validation warnings retained from load
func (r *Registry) Warnings() []string {
	return r.warnings
}
