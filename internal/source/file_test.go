package source_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sql-gateway/internal/config"
	"sql-gateway/internal/source"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func newFileSource(dirs ...string) *source.FileSource {
	return source.NewFileSource(config.RegistryConfig{
		Directories:      dirs,
		DatabasePatterns: config.DefaultDatabasePatterns,
		QueryPatterns:    config.DefaultQueryPatterns,
		EndpointPatterns: config.DefaultEndpointPatterns,
	})
}

func TestFileSourceLoadsAllKinds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "databases.yaml", `
databases:
  main:
    url: ./main.db
    driver: sqlite
`)
	writeFile(t, dir, "queries.yaml", `
queries:
  get_user:
    database: main
    sql: "SELECT * FROM users WHERE id = ?"
    parameters:
      - name: id
        type: LONG
        required: true
`)
	writeFile(t, dir, "endpoints.yaml", `
endpoints:
  user_by_id:
    path: /users/{id}
    method: GET
    query: get_user
    parameters:
      - name: id
        source: path
        type: LONG
        required: true
`)

	src := newFileSource(dir)
	ctx := context.Background()

	databases, _, err := src.LoadDatabases(ctx)
	if err != nil {
		t.Fatalf("LoadDatabases failed: %v", err)
	}
	if len(databases) != 1 {
		t.Fatalf("got %d databases, want 1", len(databases))
	}
	// The map key becomes the authoritative name
	if databases["main"].Name != "main" {
		t.Errorf("database name = %q, want main", databases["main"].Name)
	}
	if databases["main"].Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", databases["main"].Driver)
	}

	queries, _, err := src.LoadQueries(ctx)
	if err != nil {
		t.Fatalf("LoadQueries failed: %v", err)
	}
	q := queries["get_user"]
	if q.Name != "get_user" || q.Database != "main" {
		t.Errorf("query = %+v, want name get_user bound to main", q)
	}
	if len(q.Parameters) != 1 || q.Parameters[0].Type != config.TypeLong {
		t.Errorf("parameters = %+v, want one LONG parameter", q.Parameters)
	}

	endpoints, _, err := src.LoadEndpoints(ctx)
	if err != nil {
		t.Fatalf("LoadEndpoints failed: %v", err)
	}
	ep := endpoints["user_by_id"]
	if ep.Path != "/users/{id}" || ep.Method != "GET" || ep.Query != "get_user" {
		t.Errorf("endpoint = %+v", ep)
	}
	if ep.Parameters[0].Source != config.SourcePath {
		t.Errorf("parameter source = %q, want path", ep.Parameters[0].Source)
	}
}

func TestFileSourceLaterDirectoryOverrides(t *testing.T) {
	base := t.TempDir()
	override := t.TempDir()

	writeFile(t, base, "databases.yaml", `
databases:
  main:
    url: ./base.db
    driver: sqlite
`)
	writeFile(t, override, "databases.yaml", `
databases:
  main:
    url: ./override.db
    driver: sqlite
`)

	src := newFileSource(base, override)
	databases, warnings, err := src.LoadDatabases(context.Background())
	if err != nil {
		t.Fatalf("LoadDatabases failed: %v", err)
	}

	if databases["main"].URL != "./override.db" {
		t.Errorf("url = %q, want the later directory to win", databases["main"].URL)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "redefined") {
		t.Errorf("warnings = %v, want one redefinition warning", warnings)
	}
}

func TestFileSourceSkipsMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "databases.yaml", `
databases:
  main:
    url: ./main.db
    driver: sqlite
`)

	src := newFileSource(filepath.Join(dir, "does-not-exist"), dir)
	databases, _, err := src.LoadDatabases(context.Background())
	if err != nil {
		t.Fatalf("LoadDatabases failed: %v", err)
	}
	if len(databases) != 1 {
		t.Errorf("got %d databases, want 1", len(databases))
	}
}

func TestFileSourceExpandsEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_TEST_DB_URL", "/data/env.db")

	dir := t.TempDir()
	writeFile(t, dir, "databases.yaml", `
databases:
  main:
    url: ${GATEWAY_TEST_DB_URL}
    driver: sqlite
`)

	src := newFileSource(dir)
	databases, _, err := src.LoadDatabases(context.Background())
	if err != nil {
		t.Fatalf("LoadDatabases failed: %v", err)
	}
	if databases["main"].URL != "/data/env.db" {
		t.Errorf("url = %q, want expanded environment value", databases["main"].URL)
	}
}

func TestFileSourceMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "databases.yaml", "databases: [not, a, map")

	src := newFileSource(dir)
	if _, _, err := src.LoadDatabases(context.Background()); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestFileSourceCustomPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "db-config.yml", `
databases:
  main:
    url: ./main.db
    driver: sqlite
`)

	src := source.NewFileSource(config.RegistryConfig{
		Directories:      []string{dir},
		DatabasePatterns: []string{"db-*.yml"},
	})
	databases, _, err := src.LoadDatabases(context.Background())
	if err != nil {
		t.Fatalf("LoadDatabases failed: %v", err)
	}
	if len(databases) != 1 {
		t.Errorf("got %d databases, want 1 matched by custom pattern", len(databases))
	}
}
