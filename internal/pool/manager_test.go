package pool_test

import (
	"context"
	"sync"
	"testing"

	"sql-gateway/internal/config"
	"sql-gateway/internal/pool"
	"sql-gateway/internal/testutil"
)

func newManager(t *testing.T, tdb *testutil.TestDB) *pool.Manager {
	t.Helper()

	dbCfg := tdb.DatabaseConfig()
	m := pool.NewManager(func(name string) (config.DatabaseConfig, bool) {
		if name == dbCfg.Name {
			return dbCfg, true
		}
		return config.DatabaseConfig{}, false
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAcquireCreatesPoolLazily(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	m := newManager(t, tdb)

	if m.Count() != 0 {
		t.Fatalf("count = %d before first use, want 0", m.Count())
	}

	conn, err := m.Acquire(context.Background(), tdb.Name)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	conn.Close()

	if m.Count() != 1 {
		t.Errorf("count = %d after first use, want 1", m.Count())
	}
}

func TestAcquireUnknownDatabase(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	m := newManager(t, tdb)

	if _, err := m.Acquire(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error for unknown database")
	}
}

func TestConcurrentFirstUseBuildsOnePool(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	m := newManager(t, tdb)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := m.Acquire(context.Background(), tdb.Name)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			conn.Close()
		}()
	}
	wg.Wait()

	if m.Count() != 1 {
		t.Errorf("count = %d, want exactly one pool", m.Count())
	}
}

func TestValidateMarksUp(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	m := newManager(t, tdb)

	if err := m.Validate(context.Background(), tdb.Name); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	states := m.States()
	if states[tdb.Name].Availability != pool.Up {
		t.Errorf("availability = %v, want UP", states[tdb.Name].Availability)
	}
	if !m.IsAvailable(tdb.Name) {
		t.Error("validated pool reported unavailable")
	}
}

func TestMarkDownRecordsReason(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	m := newManager(t, tdb)

	if err := m.Validate(context.Background(), tdb.Name); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	m.MarkDown(tdb.Name, "probe timed out")
	if m.IsAvailable(tdb.Name) {
		t.Error("pool still available after MarkDown")
	}
	if got := m.FailureReason(tdb.Name); got != "probe timed out" {
		t.Errorf("reason = %q", got)
	}

	// A successful validation recovers the pool
	if err := m.Validate(context.Background(), tdb.Name); err != nil {
		t.Fatalf("Validate after MarkDown failed: %v", err)
	}
	if !m.IsAvailable(tdb.Name) {
		t.Error("pool not recovered after successful validation")
	}
	if m.FailureReason(tdb.Name) != "" {
		t.Errorf("reason not cleared: %q", m.FailureReason(tdb.Name))
	}
}

func TestUncreatedPoolCountsAvailable(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	m := newManager(t, tdb)

	if !m.IsAvailable(tdb.Name) {
		t.Error("never-used pool should count as available")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	m := newManager(t, tdb)

	conn, err := m.Acquire(context.Background(), tdb.Name)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	conn.Close()

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := m.Acquire(context.Background(), tdb.Name); err == nil {
		t.Error("Acquire after Close should fail")
	}
}
