// Package source provides the two interchangeable configuration loaders:
// FileSource reads YAML documents from configured directories, DBSource
// reads the metadata tables. Both produce the same three maps.
package source

import (
	"context"

	"sql-gateway/internal/config"
)

// Source loads the three declarative registries.
// Loaders return non-fatal findings as warnings; an error aborts the load.
type Source interface {
	// Name identifies the source (e.g. "yaml", "database")
	Name() string

	LoadDatabases(ctx context.Context) (map[string]config.DatabaseConfig, []string, error)
	LoadQueries(ctx context.Context) (map[string]config.QueryConfig, []string, error)
	LoadEndpoints(ctx context.Context) (map[string]config.EndpointConfig, []string, error)
}

// WritableSource is a Source that supports per-entry upserts. Only the
// database-backed source is writable; migration targets must implement this.
type WritableSource interface {
	Source

	// EnsureSchema creates the metadata tables if they do not exist
	EnsureSchema(ctx context.Context) error

	// Upsert operations return created=true when a new row was inserted,
	// created=false when an existing row was updated.
	UpsertDatabase(ctx context.Context, cfg config.DatabaseConfig) (created bool, err error)
	UpsertQuery(ctx context.Context, cfg config.QueryConfig) (created bool, err error)
	UpsertEndpoint(ctx context.Context, cfg config.EndpointConfig) (created bool, err error)
}
