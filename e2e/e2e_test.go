package e2e

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// testServer holds state for a running gateway instance
type testServer struct {
	cmd     *exec.Cmd
	baseURL string
	port    int
}

// findFreePort finds an available port for the test server
func findFreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// buildBinary compiles the gateway binary for testing
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	binaryName := "sql-gateway-test"
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}
	binaryPath := filepath.Join(tmpDir, binaryName)

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = ".."
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build binary: %v\nOutput: %s", err, output)
	}
	return binaryPath
}

// seedDatabase creates and populates the fixture SQLite database
func seedDatabase(t *testing.T, dbPath string) {
	t.Helper()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open fixture database: %v", err)
	}
	defer db.Close()

	statements := []string{
		`CREATE TABLE items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			price REAL NOT NULL
		)`,
	}
	for i := 1; i <= 25; i++ {
		category := "tools"
		if i%2 == 0 {
			category = "parts"
		}
		statements = append(statements, fmt.Sprintf(
			"INSERT INTO items (name, category, price) VALUES ('item-%02d', '%s', %d.50)",
			i, category, i))
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to seed database: %v\n%s", err, stmt)
		}
	}
}

// writeConfig lays out config.yaml plus the registry directory
func writeConfig(t *testing.T, port int, dbPath string) string {
	t.Helper()

	dir := t.TempDir()
	confDir := filepath.Join(dir, "conf")
	if err := os.MkdirAll(confDir, 0755); err != nil {
		t.Fatalf("failed to create conf dir: %v", err)
	}

	appConfig := fmt.Sprintf(`server:
  host: "127.0.0.1"
  port: %d
  default_timeout_sec: 30
  max_timeout_sec: 300

logging:
  level: "error"

metrics:
  enabled: true

swagger:
  enabled: true

config:
  source: yaml
  directories:
    - %q
`, port, confDir)

	registryFiles := map[string]string{
		"databases.yaml": fmt.Sprintf(`databases:
  main:
    url: %q
    driver: sqlite
    pool:
      maxSize: 4
`, dbPath),
		"queries.yaml": `queries:
  get_item:
    database: main
    sql: "SELECT id, name, category, price FROM items WHERE id = ?"
    parameters:
      - name: id
        type: LONG
        required: true
  list_items:
    database: main
    sql: "SELECT id, name, category FROM items ORDER BY id LIMIT ? OFFSET ?"
    parameters:
      - name: limit
        type: INTEGER
        required: true
      - name: offset
        type: INTEGER
        required: true
  count_items:
    database: main
    sql: "SELECT COUNT(*) FROM items"
  items_by_category:
    database: main
    sql: "SELECT id, name FROM items WHERE category = ? ORDER BY id"
    parameters:
      - name: category
        type: STRING
        required: true
`,
		"endpoints.yaml": `endpoints:
  item_by_id:
    path: /api/items/{id}
    method: GET
    query: get_item
    parameters:
      - name: id
        source: path
        type: LONG
        required: true
        validate: "value > 0"
  items_list:
    path: /api/items
    method: GET
    query: list_items
    countQuery: count_items
    pagination:
      enabled: true
      defaultSize: 10
      maxSize: 50
  items_search:
    path: /api/items/search
    method: POST
    query: items_by_category
    parameters:
      - name: category
        source: body-field
        type: STRING
        required: true
`,
	}
	for name, content := range registryFiles {
		if err := os.WriteFile(filepath.Join(confDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(appConfig), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

// startServer launches the gateway and waits for it to accept requests
func startServer(t *testing.T, binaryPath, configPath string, port int) *testServer {
	t.Helper()

	cmd := exec.Command(binaryPath, "-config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	ts := &testServer{
		cmd:     cmd,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		port:    port,
	}
	if err := ts.waitReady(10 * time.Second); err != nil {
		cmd.Process.Kill()
		t.Fatalf("server failed to become ready: %v", err)
	}
	t.Cleanup(func() { ts.stop() })
	return ts
}

// waitReady polls the health endpoint until the server responds
func (ts *testServer) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 1 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(ts.baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

// stop sends SIGTERM and waits for a graceful exit
func (ts *testServer) stop() error {
	if ts.cmd == nil || ts.cmd.Process == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return ts.cmd.Process.Kill()
	}

	ts.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- ts.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		ts.cmd.Process.Kill()
		return fmt.Errorf("server did not shut down gracefully, killed")
	}
}

func (ts *testServer) get(path string) (*http.Response, error) {
	return http.Get(ts.baseURL + path)
}

// getJSON makes a GET request and decodes the JSON response
func (ts *testServer) getJSON(path string, v any) (*http.Response, error) {
	resp, err := ts.get(path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return resp, fmt.Errorf("json decode error: %v, body: %s", err, body)
	}
	return resp, nil
}

// postJSON posts a JSON body and decodes the JSON response
func (ts *testServer) postJSON(path, payload string, v any) (*http.Response, error) {
	resp, err := http.Post(ts.baseURL+path, "application/json", strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return resp, fmt.Errorf("json decode error: %v, body: %s", err, body)
	}
	return resp, nil
}

// launch builds, seeds and starts a full gateway for one test
func launch(t *testing.T) *testServer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	binaryPath := buildBinary(t)
	port, err := findFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	seedDatabase(t, dbPath)
	configPath := writeConfig(t, port, dbPath)

	return startServer(t, binaryPath, configPath, port)
}

func TestE2E_StartupAndShutdown(t *testing.T) {
	ts := launch(t)

	resp, err := ts.get("/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := ts.stop(); err != nil {
		// "signal: terminated" is the expected exit of a clean SIGTERM
		if !strings.Contains(err.Error(), "signal") {
			t.Errorf("server shutdown error: %v", err)
		}
	}
}

func TestE2E_SingleResult(t *testing.T) {
	ts := launch(t)

	var body struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	resp, err := ts.getJSON("/api/items/7", &body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.Type != "SINGLE" {
		t.Errorf("type = %q, want SINGLE", body.Type)
	}
	if body.Data["name"] != "item-07" {
		t.Errorf("name = %v, want item-07", body.Data["name"])
	}
}

func TestE2E_PagedResult(t *testing.T) {
	ts := launch(t)

	var body struct {
		Type       string           `json:"type"`
		Data       []map[string]any `json:"data"`
		Pagination struct {
			Page          int   `json:"page"`
			Size          int   `json:"size"`
			TotalElements int64 `json:"totalElements"`
			TotalPages    int   `json:"totalPages"`
			First         bool  `json:"first"`
			Last          bool  `json:"last"`
		} `json:"pagination"`
	}
	resp, err := ts.getJSON("/api/items?page=2&size=10", &body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if body.Type != "PAGED" {
		t.Errorf("type = %q, want PAGED", body.Type)
	}
	if len(body.Data) != 5 {
		t.Errorf("got %d rows on last page, want 5", len(body.Data))
	}
	p := body.Pagination
	if p.TotalElements != 25 || p.TotalPages != 3 {
		t.Errorf("pagination totals = %d/%d, want 25/3", p.TotalElements, p.TotalPages)
	}
	if p.First || !p.Last {
		t.Errorf("first/last = %v/%v, want false/true", p.First, p.Last)
	}
}

func TestE2E_BodyParameter(t *testing.T) {
	ts := launch(t)

	var body struct {
		Type string           `json:"type"`
		Data []map[string]any `json:"data"`
	}
	resp, err := ts.postJSON("/api/items/search", `{"category": "tools"}`, &body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.Type != "LIST" || len(body.Data) != 13 {
		t.Errorf("type/rows = %q/%d, want LIST with 13 odd-numbered items", body.Type, len(body.Data))
	}
}

func TestE2E_ErrorEnvelope(t *testing.T) {
	ts := launch(t)

	cases := []struct {
		path       string
		wantStatus int
		wantCode   string
	}{
		{"/api/items/not-a-number", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/items/0", http.StatusBadRequest, "BAD_REQUEST"}, // validation rule
		{"/api/items/99999", http.StatusNotFound, "NOT_FOUND"},
		{"/api/items?size=51", http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		var body struct {
			Error      string `json:"error"`
			ErrorCode  string `json:"errorCode"`
			StatusCode int    `json:"statusCode"`
		}
		resp, err := ts.getJSON(tc.path, &body)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.path, err)
		}
		if resp.StatusCode != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.path, resp.StatusCode, tc.wantStatus)
		}
		if body.ErrorCode != tc.wantCode || body.StatusCode != tc.wantStatus || body.Error == "" {
			t.Errorf("%s: envelope = %+v", tc.path, body)
		}
	}
}

func TestE2E_ManagementAndMetrics(t *testing.T) {
	ts := launch(t)

	var dashboard map[string]any
	resp, err := ts.getJSON("/api/management/dashboard", &dashboard)
	if err != nil {
		t.Fatalf("dashboard request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d", resp.StatusCode)
	}
	reg, ok := dashboard["registry"].(map[string]any)
	if !ok || reg["endpoints"] != float64(3) {
		t.Errorf("dashboard registry = %v", dashboard["registry"])
	}

	// Drive one request, then scrape
	ts.get("/api/items/1")

	resp, err = ts.get("/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(text), "gateway_requests_total") {
		t.Error("metrics exposition missing gateway series")
	}

	var spec map[string]any
	if _, err := ts.getJSON("/openapi.json", &spec); err != nil {
		t.Fatalf("openapi request failed: %v", err)
	}
	if spec["openapi"] != "3.0.3" {
		t.Errorf("openapi version = %v", spec["openapi"])
	}
}

func TestE2E_ValidateMode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	binaryPath := buildBinary(t)
	port, err := findFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	seedDatabase(t, dbPath)
	configPath := writeConfig(t, port, dbPath)

	cmd := exec.Command(binaryPath, "-config", configPath, "-validate-db")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("validate mode failed: %v\n%s", err, output)
	}
	text := string(output)
	if !strings.Contains(text, "Configuration is valid") {
		t.Errorf("validate output missing success line:\n%s", text)
	}
	if !strings.Contains(text, "Databases: 1, Queries: 4, Endpoints: 3") {
		t.Errorf("validate output missing counts:\n%s", text)
	}
}

func TestE2E_InvalidConfigRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	binaryPath := buildBinary(t)
	port, err := findFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	seedDatabase(t, dbPath)
	configPath := writeConfig(t, port, dbPath)

	// Break a reference: endpoint pointing at a missing query
	confDir := filepath.Join(filepath.Dir(configPath), "conf")
	broken := `endpoints:
  item_by_id:
    path: /api/items/{id}
    method: GET
    query: no_such_query
`
	if err := os.WriteFile(filepath.Join(confDir, "endpoints.yaml"), []byte(broken), 0644); err != nil {
		t.Fatalf("failed to overwrite endpoints: %v", err)
	}

	cmd := exec.Command(binaryPath, "-config", configPath, "-validate")
	output, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("validate accepted a broken reference:\n%s", output)
	}
	if !strings.Contains(string(output), "references non-existent query: no_such_query") {
		t.Errorf("validate output missing the broken reference:\n%s", output)
	}
}
