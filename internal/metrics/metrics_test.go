package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordAggregates(t *testing.T) {
	c := NewCollector()

	c.Record(RequestMetrics{
		Endpoint: "users", QueryName: "q_users",
		TotalDuration: 20 * time.Millisecond,
		QueryDuration: 5 * time.Millisecond,
		RowCount:      3, StatusCode: 200,
	})
	c.Record(RequestMetrics{
		Endpoint: "users", QueryName: "q_users",
		TotalDuration: 40 * time.Millisecond,
		QueryDuration: 15 * time.Millisecond,
		RowCount:      1, StatusCode: 400, Error: "BAD_REQUEST",
	})
	c.Record(RequestMetrics{
		Endpoint: "products", QueryName: "q_products",
		TotalDuration: 10 * time.Millisecond,
		StatusCode:    200, CacheHit: true,
	})

	snap := c.GetSnapshot()
	if snap.TotalRequests != 3 || snap.TotalErrors != 1 {
		t.Errorf("totals = %d/%d, want 3 requests, 1 error", snap.TotalRequests, snap.TotalErrors)
	}

	users := snap.Endpoints["users"]
	if users == nil {
		t.Fatal("users endpoint missing from snapshot")
	}
	if users.RequestCount != 2 || users.ErrorCount != 1 || users.TotalRows != 4 {
		t.Errorf("users stats = %+v", users)
	}
	if users.MinDurationMs != 20 || users.MaxDurationMs != 40 || users.AvgDurationMs != 30 {
		t.Errorf("users durations = min %v max %v avg %v", users.MinDurationMs, users.MaxDurationMs, users.AvgDurationMs)
	}
	if users.QueryName != "q_users" || users.AvgQueryMs != 10 {
		t.Errorf("users query stats = %+v", users)
	}

	products := snap.Endpoints["products"]
	if products == nil || products.CacheHits != 1 {
		t.Errorf("products stats = %+v", products)
	}

	if snap.Runtime.GoVersion == "" || snap.Runtime.NumCPU == 0 {
		t.Errorf("runtime stats incomplete: %+v", snap.Runtime)
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.Record(RequestMetrics{Endpoint: "users", StatusCode: 200})

	c.Reset()

	snap := c.GetSnapshot()
	if snap.TotalRequests != 0 || len(snap.Endpoints) != 0 {
		t.Errorf("snapshot after reset = %+v", snap)
	}
}

func TestCacheSnapshotProvider(t *testing.T) {
	c := NewCollector()
	c.SetCacheSnapshotProvider(func() any {
		return map[string]int{"hits": 9}
	})

	snap := c.GetSnapshot()
	provided, ok := snap.Cache.(map[string]int)
	if !ok || provided["hits"] != 9 {
		t.Errorf("cache section = %v", snap.Cache)
	}
}

func TestPrometheusExposition(t *testing.T) {
	c := NewCollector()
	c.Record(RequestMetrics{
		Endpoint: "users", QueryName: "q_users",
		StatusCode: 200, TotalDuration: time.Millisecond,
	})
	c.Record(RequestMetrics{
		Endpoint: "users", StatusCode: 503, Error: "SERVICE_UNAVAILABLE",
	})
	c.SetDatabaseUp("main", true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}

	text := rec.Body.String()
	for _, want := range []string{
		`gateway_requests_total{endpoint="users",status="2xx"} 1`,
		`gateway_requests_total{endpoint="users",status="5xx"} 1`,
		`gateway_request_errors_total{code="SERVICE_UNAVAILABLE",endpoint="users"} 1`,
		`gateway_database_up{database="main"} 1`,
		"gateway_request_duration_seconds",
		"gateway_query_duration_seconds",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	for code, want := range map[int]string{
		200: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 503: "5xx",
	} {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
