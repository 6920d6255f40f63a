package registry_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sql-gateway/internal/apierr"
	"sql-gateway/internal/config"
	"sql-gateway/internal/registry"
)

// fakeSource serves fixed maps, standing in for file or database sources.
type fakeSource struct {
	databases map[string]config.DatabaseConfig
	queries   map[string]config.QueryConfig
	endpoints map[string]config.EndpointConfig
	warnings  []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) LoadDatabases(ctx context.Context) (map[string]config.DatabaseConfig, []string, error) {
	return f.databases, f.warnings, nil
}

func (f *fakeSource) LoadQueries(ctx context.Context) (map[string]config.QueryConfig, []string, error) {
	return f.queries, nil, nil
}

func (f *fakeSource) LoadEndpoints(ctx context.Context) (map[string]config.EndpointConfig, []string, error) {
	return f.endpoints, nil, nil
}

func validSource() *fakeSource {
	return &fakeSource{
		databases: map[string]config.DatabaseConfig{
			"d1": {Name: "d1", URL: "./test.db", Driver: "sqlite"},
		},
		queries: map[string]config.QueryConfig{
			"q1": {
				Name: "q1", Database: "d1",
				SQL: "SELECT * FROM users WHERE id = ?",
				Parameters: []config.QueryParameter{
					{Name: "id", Type: config.TypeLong, Required: true},
				},
			},
			"q_list": {
				Name: "q_list", Database: "d1",
				SQL: "SELECT * FROM users LIMIT ? OFFSET ?",
				Parameters: []config.QueryParameter{
					{Name: "limit", Type: config.TypeInteger, Required: true},
					{Name: "offset", Type: config.TypeInteger, Required: true},
				},
			},
			"q_count": {
				Name: "q_count", Database: "d1",
				SQL: "SELECT COUNT(*) FROM users",
			},
		},
		endpoints: map[string]config.EndpointConfig{
			"e1": {
				Name: "e1", Path: "/users/{id}", Method: "GET", Query: "q1",
				Parameters: []config.EndpointParameter{
					{Name: "id", Source: config.SourcePath, Type: config.TypeLong, Required: true},
				},
			},
			"e_list": {
				Name: "e_list", Path: "/users", Method: "GET", Query: "q_list",
				CountQuery: "q_count",
				Pagination: &config.PaginationConfig{Enabled: true, DefaultSize: 20, MaxSize: 100},
			},
		},
	}
}

func TestBuildValid(t *testing.T) {
	reg, report, err := registry.Build(context.Background(), validSource())
	if err != nil {
		t.Fatalf("Build failed: %v (errors: %v)", err, report.Errors)
	}
	if !report.Valid() {
		t.Fatalf("report not valid: %v", report.Errors)
	}

	databases, queries, endpoints := reg.Counts()
	if databases != 1 || queries != 3 || endpoints != 2 {
		t.Errorf("Counts = (%d, %d, %d), want (1, 3, 2)", databases, queries, endpoints)
	}

	if got := reg.QueriesForDatabase("d1"); len(got) != 3 {
		t.Errorf("QueriesForDatabase(d1) = %v, want 3 entries", got)
	}
	if got := reg.EndpointsForQuery("q1"); len(got) != 1 || got[0] != "e1" {
		t.Errorf("EndpointsForQuery(q1) = %v, want [e1]", got)
	}
	// Count queries index back to their endpoints too
	if got := reg.EndpointsForQuery("q_count"); len(got) != 1 || got[0] != "e_list" {
		t.Errorf("EndpointsForQuery(q_count) = %v, want [e_list]", got)
	}
}

func TestBuildMissingQueryReference(t *testing.T) {
	src := validSource()
	ep := src.endpoints["e1"]
	ep.Query = "missing"
	src.endpoints["e1"] = ep

	_, report, err := registry.Build(context.Background(), src)
	if err == nil {
		t.Fatal("expected error for dangling query reference")
	}

	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Kind != apierr.ConfigurationError {
		t.Errorf("error kind = %v, want ConfigurationError", err)
	}

	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "references non-existent query: missing") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not name the missing query", report.Errors)
	}
}

func TestBuildMissingDatabaseReference(t *testing.T) {
	src := validSource()
	q := src.queries["q1"]
	q.Database = "nowhere"
	src.queries["q1"] = q

	_, report, err := registry.Build(context.Background(), src)
	if err == nil {
		t.Fatal("expected error for dangling database reference")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "references non-existent database: nowhere") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not name the missing database", report.Errors)
	}
}

func TestBuildPlaceholderMismatch(t *testing.T) {
	src := validSource()
	q := src.queries["q1"]
	q.Parameters = nil // SQL still has one placeholder
	src.queries["q1"] = q

	_, report, err := registry.Build(context.Background(), src)
	if err == nil {
		t.Fatal("expected error for placeholder mismatch")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "placeholder") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not mention placeholders", report.Errors)
	}
}

func TestBuildDuplicateRoute(t *testing.T) {
	src := validSource()
	src.endpoints["e_dup"] = config.EndpointConfig{
		Name: "e_dup", Path: "/users/{id}", Method: "GET", Query: "q1",
	}

	_, report, err := registry.Build(context.Background(), src)
	if err == nil {
		t.Fatal("expected error for duplicate route")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "already used") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not mention the duplicate route", report.Errors)
	}
}

func TestBuildPaginationRequiresLimitOffset(t *testing.T) {
	src := validSource()
	ep := src.endpoints["e_list"]
	ep.Query = "q1" // q1 has no trailing limit/offset
	src.endpoints["e_list"] = ep

	_, report, err := registry.Build(context.Background(), src)
	if err == nil {
		t.Fatal("expected error for pagination without limit/offset")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "limit") && strings.Contains(e, "offset") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not mention limit/offset", report.Errors)
	}
}

func TestBuildPaginationWithoutCountWarns(t *testing.T) {
	src := validSource()
	ep := src.endpoints["e_list"]
	ep.CountQuery = ""
	src.endpoints["e_list"] = ep

	reg, report, err := registry.Build(context.Background(), src)
	if err != nil {
		t.Fatalf("Build failed: %v (errors: %v)", err, report.Errors)
	}

	found := false
	for _, w := range reg.Warnings() {
		if strings.Contains(w, "countQuery") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v do not mention countQuery", reg.Warnings())
	}
}

func TestBuildInvalidDriver(t *testing.T) {
	src := validSource()
	d := src.databases["d1"]
	d.Driver = "oracle"
	src.databases["d1"] = d

	_, report, err := registry.Build(context.Background(), src)
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "unknown driver") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not mention the driver", report.Errors)
	}
}

func TestBuildMergesSourceWarnings(t *testing.T) {
	src := validSource()
	src.warnings = []string{"d1 redefined in b.yaml, overriding earlier definition"}

	reg, _, err := registry.Build(context.Background(), src)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	found := false
	for _, w := range reg.Warnings() {
		if strings.Contains(w, "redefined") {
			found = true
		}
	}
	if !found {
		t.Errorf("source warnings not carried into registry: %v", reg.Warnings())
	}
}
