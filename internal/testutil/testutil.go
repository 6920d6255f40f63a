// Package testutil provides SQLite-backed fixtures for gateway tests.
package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"sql-gateway/internal/config"
)

// TestDB wraps a file-backed SQLite database for testing. A file (not
// :memory:) is used so every pooled connection sees the same data.
type TestDB struct {
	DB   *sql.DB
	Path string
	Name string
}

// NewTestDB creates a seeded SQLite database under t.TempDir.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway_test.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			t.Fatalf("failed to apply pragma %s: %v", pragma, err)
		}
	}

	tdb := &TestDB{DB: db, Path: path, Name: "testdb"}
	tdb.createSchema(t)
	return tdb
}

func (tdb *TestDB) createSchema(t *testing.T) {
	t.Helper()

	schema := `
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			category TEXT,
			price REAL NOT NULL,
			quantity INTEGER DEFAULT 0,
			is_active INTEGER DEFAULT 1
		);

		CREATE TABLE orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			product_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			total_price REAL NOT NULL,
			status TEXT DEFAULT 'pending',
			order_date DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (product_id) REFERENCES products(id)
		);

		CREATE INDEX idx_products_category ON products(category);
		CREATE INDEX idx_orders_user ON orders(user_id);
	`

	if _, err := tdb.DB.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
}

// Seed populates the fixture tables with a small known data set.
func (tdb *TestDB) Seed(t *testing.T) {
	t.Helper()

	users := []struct{ username, email, status string }{
		{"alice", "alice@example.com", "active"},
		{"bob", "bob@example.com", "active"},
		{"charlie", "charlie@example.com", "inactive"},
	}
	for _, u := range users {
		if _, err := tdb.DB.Exec(
			"INSERT INTO users (username, email, status) VALUES (?, ?, ?)",
			u.username, u.email, u.status,
		); err != nil {
			t.Fatalf("failed to insert user %s: %v", u.username, err)
		}
	}

	products := []struct {
		name, category string
		price          float64
		qty, active    int
	}{
		{"Widget A", "widgets", 9.99, 100, 1},
		{"Widget B", "widgets", 19.99, 50, 1},
		{"Gadget X", "gadgets", 49.99, 25, 1},
		{"Legacy Item", "legacy", 5.99, 0, 0},
	}
	for _, p := range products {
		if _, err := tdb.DB.Exec(
			"INSERT INTO products (name, category, price, quantity, is_active) VALUES (?, ?, ?, ?, ?)",
			p.name, p.category, p.price, p.qty, p.active,
		); err != nil {
			t.Fatalf("failed to insert product %s: %v", p.name, err)
		}
	}
}

// SeedUsers inserts n generated users for pagination tests.
func (tdb *TestDB) SeedUsers(t *testing.T, n int) {
	t.Helper()

	tx, err := tdb.DB.Begin()
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO users (username, email) VALUES (?, ?)")
	if err != nil {
		t.Fatalf("failed to prepare statement: %v", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("user%04d", i)
		if _, err := stmt.Exec(name, name+"@example.com"); err != nil {
			t.Fatalf("failed to insert user %d: %v", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit transaction: %v", err)
	}
}

// DatabaseConfig returns a gateway database definition pointing at the fixture.
func (tdb *TestDB) DatabaseConfig() config.DatabaseConfig {
	maxSize := 2
	return config.DatabaseConfig{
		Name:   tdb.Name,
		URL:    tdb.Path,
		Driver: "sqlite",
		Pool:   &config.PoolConfig{MaxSize: &maxSize},
	}
}

// Count returns the number of rows in a table
func (tdb *TestDB) Count(t *testing.T, table string) int {
	t.Helper()
	var count int
	if err := tdb.DB.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}
	return count
}

// Exec executes a statement against the fixture
func (tdb *TestDB) Exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := tdb.DB.Exec(query, args...); err != nil {
		t.Fatalf("failed to exec %q: %v", query, err)
	}
}
