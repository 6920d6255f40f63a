// Package db opens database/sql handles for the logical drivers the
// gateway supports and normalizes positional placeholder syntax across
// them. Pool limits come from the declared PoolConfig.
package db

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"database/sql"

	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"sql-gateway/internal/config"
)

// Logical driver ids
const (
	DriverSQLite    = "sqlite"
	DriverSQLServer = "sqlserver"
)

// ValidDrivers lists the supported logical driver ids
var ValidDrivers = map[string]bool{
	DriverSQLite:    true,
	DriverSQLServer: true,
}

// Open opens a *sql.DB for the declared database and applies its pool
// limits. The handle is not pinged; callers decide when to validate.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := buildDSN(cfg.Driver, cfg.URL, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	configurePool(conn, cfg.Pool)
	return conn, nil
}

// OpenMetadata opens the metadata database for the DB config source.
func OpenMetadata(cfg config.MetadataConfig) (*sql.DB, error) {
	dsn, err := buildDSN(cfg.Driver, cfg.URL, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}
	configurePool(conn, nil)
	return conn, nil
}

func configurePool(conn *sql.DB, pool *config.PoolConfig) {
	conn.SetMaxOpenConns(pool.EffectiveMaxSize())
	conn.SetMaxIdleConns(pool.EffectiveMinIdle())
	conn.SetConnMaxLifetime(pool.EffectiveMaxLifetime())
	conn.SetConnMaxIdleTime(pool.EffectiveIdleTimeout())
}

// buildDSN folds credentials into the declared URL per driver.
func buildDSN(driver, rawURL, username, password string) (string, error) {
	switch driver {
	case DriverSQLite:
		// SQLite uses a file path or :memory: as its connection string
		return rawURL, nil

	case DriverSQLServer:
		if strings.HasPrefix(rawURL, "sqlserver://") {
			u, err := url.Parse(rawURL)
			if err != nil {
				return "", fmt.Errorf("invalid sqlserver url: %w", err)
			}
			if username != "" {
				u.User = url.UserPassword(username, password)
			}
			return u.String(), nil
		}
		// ADO-style connection string: append credentials when provided
		dsn := rawURL
		if username != "" && !strings.Contains(strings.ToLower(dsn), "user id=") {
			dsn = strings.TrimSuffix(dsn, ";")
			dsn += fmt.Sprintf(";user id=%s;password=%s", username, password)
		}
		return dsn, nil

	default:
		return "", fmt.Errorf("unknown database driver: %s", driver)
	}
}

// TranslatePlaceholders rewrites '?' positional placeholders into the
// native positional syntax of the driver. SQLite takes '?' directly;
// SQL Server requires @p1..@pN. String literals are left untouched.
func TranslatePlaceholders(driver, query string) string {
	if driver != DriverSQLServer {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)

	inString := false
	n := 0
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch ch {
		case '\'':
			inString = !inString
			b.WriteByte(ch)
		case '?':
			if inString {
				b.WriteByte(ch)
				continue
			}
			n++
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
