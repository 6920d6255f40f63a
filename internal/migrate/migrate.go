// Package migrate moves declared configuration between sources:
// file to database, database to file (export), plus comparison and
// status reporting. Entries are migrated one at a time; a failed entry
// is recorded and skipped, never rolled back.
package migrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"sql-gateway/internal/logging"
	"sql-gateway/internal/source"
)

// KindResult reports the outcome for one configuration kind
type KindResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Result is the outcome of one migration run
type Result struct {
	Databases   KindResult `json:"databases"`
	Queries     KindResult `json:"queries"`
	Endpoints   KindResult `json:"endpoints"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt time.Time  `json:"completedAt"`
}

// Failures returns the total failed entry count across kinds
func (r Result) Failures() int {
	return r.Databases.Failed + r.Queries.Failed + r.Endpoints.Failed
}

// Migrate copies every entry from src into dst, creating the schema
// first. Existing entries are updated in place.
func Migrate(ctx context.Context, src source.Source, dst source.WritableSource) (*Result, error) {
	result := &Result{StartedAt: time.Now()}

	if err := dst.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare destination schema: %w", err)
	}

	databases, _, err := src.LoadDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load databases from %s: %w", src.Name(), err)
	}
	for _, name := range sortedKeys(databases) {
		created, err := dst.UpsertDatabase(ctx, databases[name])
		record(&result.Databases, "database", name, created, err)
	}

	queries, _, err := src.LoadQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries from %s: %w", src.Name(), err)
	}
	for _, name := range sortedKeys(queries) {
		created, err := dst.UpsertQuery(ctx, queries[name])
		record(&result.Queries, "query", name, created, err)
	}

	endpoints, _, err := src.LoadEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints from %s: %w", src.Name(), err)
	}
	for _, name := range sortedKeys(endpoints) {
		created, err := dst.UpsertEndpoint(ctx, endpoints[name])
		record(&result.Endpoints, "endpoint", name, created, err)
	}

	result.CompletedAt = time.Now()
	logging.Info("migration_completed", map[string]any{
		"source":      src.Name(),
		"destination": dst.Name(),
		"failures":    result.Failures(),
		"duration_ms": result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	})
	return result, nil
}

func record(kr *KindResult, kind, name string, created bool, err error) {
	if err != nil {
		kr.Failed++
		kr.Errors = append(kr.Errors, fmt.Sprintf("%s %s: %v", kind, name, err))
		logging.Warn("migration_entry_failed", map[string]any{
			"kind":  kind,
			"name":  name,
			"error": err.Error(),
		})
		return
	}
	if created {
		kr.Created++
	} else {
		kr.Updated++
	}
}

// Export renders a source's full configuration as three YAML documents
// in the file layout the file loader reads back.
type Export struct {
	Databases []byte
	Queries   []byte
	Endpoints []byte
}

// ExportYAML serializes every entry of src into YAML documents.
func ExportYAML(ctx context.Context, src source.Source) (*Export, error) {
	databases, _, err := src.LoadDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load databases from %s: %w", src.Name(), err)
	}
	queries, _, err := src.LoadQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries from %s: %w", src.Name(), err)
	}
	endpoints, _, err := src.LoadEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints from %s: %w", src.Name(), err)
	}

	out := &Export{}
	if out.Databases, err = yaml.Marshal(map[string]any{"databases": databases}); err != nil {
		return nil, fmt.Errorf("failed to serialize databases: %w", err)
	}
	if out.Queries, err = yaml.Marshal(map[string]any{"queries": queries}); err != nil {
		return nil, fmt.Errorf("failed to serialize queries: %w", err)
	}
	if out.Endpoints, err = yaml.Marshal(map[string]any{"endpoints": endpoints}); err != nil {
		return nil, fmt.Errorf("failed to serialize endpoints: %w", err)
	}
	return out, nil
}

// KindDiff lists entry names by presence across two sources
type KindDiff struct {
	OnlyInA []string `json:"onlyInA"`
	OnlyInB []string `json:"onlyInB"`
	InBoth  []string `json:"inBoth"`
}

// Diff compares the named entries of two sources
type Diff struct {
	SourceA   string   `json:"sourceA"`
	SourceB   string   `json:"sourceB"`
	Databases KindDiff `json:"databases"`
	Queries   KindDiff `json:"queries"`
	Endpoints KindDiff `json:"endpoints"`
}

// Compare reports which entry names exist in each of two sources.
func Compare(ctx context.Context, a, b source.Source) (*Diff, error) {
	diff := &Diff{SourceA: a.Name(), SourceB: b.Name()}

	da, _, err := a.LoadDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load databases from %s: %w", a.Name(), err)
	}
	db, _, err := b.LoadDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load databases from %s: %w", b.Name(), err)
	}
	diff.Databases = diffNames(keys(da), keys(db))

	qa, _, err := a.LoadQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries from %s: %w", a.Name(), err)
	}
	qb, _, err := b.LoadQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries from %s: %w", b.Name(), err)
	}
	diff.Queries = diffNames(keys(qa), keys(qb))

	ea, _, err := a.LoadEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints from %s: %w", a.Name(), err)
	}
	eb, _, err := b.LoadEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints from %s: %w", b.Name(), err)
	}
	diff.Endpoints = diffNames(keys(ea), keys(eb))

	return diff, nil
}

// Status reports entry counts for the active source
type Status struct {
	Source    string `json:"source"`
	Databases int    `json:"databases"`
	Queries   int    `json:"queries"`
	Endpoints int    `json:"endpoints"`
}

// CurrentStatus counts entries in the given source.
func CurrentStatus(ctx context.Context, src source.Source) (*Status, error) {
	databases, _, err := src.LoadDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load databases from %s: %w", src.Name(), err)
	}
	queries, _, err := src.LoadQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries from %s: %w", src.Name(), err)
	}
	endpoints, _, err := src.LoadEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints from %s: %w", src.Name(), err)
	}

	return &Status{
		Source:    src.Name(),
		Databases: len(databases),
		Queries:   len(queries),
		Endpoints: len(endpoints),
	}, nil
}

func diffNames(a, b []string) KindDiff {
	inA := make(map[string]bool, len(a))
	for _, n := range a {
		inA[n] = true
	}
	inB := make(map[string]bool, len(b))
	for _, n := range b {
		inB[n] = true
	}

	d := KindDiff{OnlyInA: []string{}, OnlyInB: []string{}, InBoth: []string{}}
	for _, n := range a {
		if inB[n] {
			d.InBoth = append(d.InBoth, n)
		} else {
			d.OnlyInA = append(d.OnlyInA, n)
		}
	}
	for _, n := range b {
		if !inA[n] {
			d.OnlyInB = append(d.OnlyInB, n)
		}
	}
	sort.Strings(d.OnlyInA)
	sort.Strings(d.OnlyInB)
	sort.Strings(d.InBoth)
	return d
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := keys(m)
	sort.Strings(out)
	return out
}
