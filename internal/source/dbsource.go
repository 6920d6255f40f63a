package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sql-gateway/internal/config"
	"sql-gateway/internal/db"
)

// DBSource loads the registries from the metadata tables
// (config_databases, config_queries, config_endpoints). Nested
// structures are stored as JSON columns; NULL JSON yields an
// "incomplete row" warning and reasonable defaults.
type DBSource struct {
	conn   *sql.DB
	driver string
}

// NewDBSource opens the metadata database described by the process config.
func NewDBSource(cfg config.MetadataConfig) (*DBSource, error) {
	conn, err := db.OpenMetadata(cfg)
	if err != nil {
		return nil, err
	}
	return &DBSource{conn: conn, driver: cfg.Driver}, nil
}

// NewDBSourceFromConn wraps an already-open metadata handle (tests,
// migration targets).
func NewDBSourceFromConn(conn *sql.DB, driver string) *DBSource {
	return &DBSource{conn: conn, driver: driver}
}

// Name identifies the source
func (s *DBSource) Name() string {
	return config.SourceDatabase
}

// Close closes the metadata handle
func (s *DBSource) Close() error {
	return s.conn.Close()
}

func (s *DBSource) sql(query string) string {
	return db.TranslatePlaceholders(s.driver, query)
}

// EnsureSchema creates the metadata tables if they do not exist
func (s *DBSource) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS config_databases (
			name TEXT PRIMARY KEY,
			driver TEXT NOT NULL,
			url TEXT NOT NULL,
			username TEXT,
			password TEXT,
			max_pool_size INTEGER,
			min_idle INTEGER,
			connection_timeout_ms INTEGER,
			idle_timeout_ms INTEGER,
			max_lifetime_ms INTEGER,
			leak_detection_ms INTEGER,
			test_query TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS config_queries (
			name TEXT PRIMARY KEY,
			database_name TEXT NOT NULL,
			sql_query TEXT NOT NULL,
			description TEXT,
			parameters_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS config_endpoints (
			name TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			method TEXT NOT NULL,
			query_name TEXT NOT NULL,
			count_query_name TEXT,
			description TEXT,
			pagination_json TEXT,
			parameters_json TEXT,
			response_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create metadata schema: %w", err)
		}
	}
	return nil
}

// LoadDatabases reads config_databases
func (s *DBSource) LoadDatabases(ctx context.Context) (map[string]config.DatabaseConfig, []string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name, driver, url, username, password,
		max_pool_size, min_idle, connection_timeout_ms, idle_timeout_ms,
		max_lifetime_ms, leak_detection_ms, test_query
		FROM config_databases`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config_databases: %w", err)
	}
	defer rows.Close()

	out := make(map[string]config.DatabaseConfig)
	var warnings []string

	for rows.Next() {
		var (
			cfg                              config.DatabaseConfig
			username, password, testQuery    sql.NullString
			maxSize, minIdle, connTimeout    sql.NullInt64
			idleTimeout, maxLife, leakDetect sql.NullInt64
		)
		if err := rows.Scan(&cfg.Name, &cfg.Driver, &cfg.URL, &username, &password,
			&maxSize, &minIdle, &connTimeout, &idleTimeout, &maxLife, &leakDetect, &testQuery); err != nil {
			return nil, nil, fmt.Errorf("failed to scan config_databases row: %w", err)
		}
		cfg.Username = username.String
		cfg.Password = password.String

		pool := &config.PoolConfig{TestQuery: testQuery.String}
		hasPool := testQuery.Valid
		if maxSize.Valid {
			v := int(maxSize.Int64)
			pool.MaxSize = &v
			hasPool = true
		}
		if minIdle.Valid {
			v := int(minIdle.Int64)
			pool.MinIdle = &v
			hasPool = true
		}
		if connTimeout.Valid {
			v := int(connTimeout.Int64)
			pool.ConnectionTimeoutMs = &v
			hasPool = true
		}
		if idleTimeout.Valid {
			v := int(idleTimeout.Int64)
			pool.IdleTimeoutMs = &v
			hasPool = true
		}
		if maxLife.Valid {
			v := int(maxLife.Int64)
			pool.MaxLifetimeMs = &v
			hasPool = true
		}
		if leakDetect.Valid {
			v := int(leakDetect.Int64)
			pool.LeakDetectionMs = &v
			hasPool = true
		}
		if hasPool {
			cfg.Pool = pool
		}

		out[cfg.Name] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, warnings, nil
}

// LoadQueries reads config_queries
func (s *DBSource) LoadQueries(ctx context.Context) (map[string]config.QueryConfig, []string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name, database_name, sql_query,
		description, parameters_json FROM config_queries`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config_queries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]config.QueryConfig)
	var warnings []string

	for rows.Next() {
		var (
			cfg            config.QueryConfig
			description    sql.NullString
			parametersJSON sql.NullString
		)
		if err := rows.Scan(&cfg.Name, &cfg.Database, &cfg.SQL, &description, &parametersJSON); err != nil {
			return nil, nil, fmt.Errorf("failed to scan config_queries row: %w", err)
		}
		cfg.Description = description.String

		if !parametersJSON.Valid {
			warnings = append(warnings, fmt.Sprintf("query %q: incomplete row (parameters_json is null), assuming no parameters", cfg.Name))
		} else if parametersJSON.String != "" {
			if err := json.Unmarshal([]byte(parametersJSON.String), &cfg.Parameters); err != nil {
				return nil, nil, fmt.Errorf("query %q: invalid parameters_json: %w", cfg.Name, err)
			}
		}

		out[cfg.Name] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, warnings, nil
}

// LoadEndpoints reads config_endpoints
func (s *DBSource) LoadEndpoints(ctx context.Context) (map[string]config.EndpointConfig, []string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name, path, method, query_name,
		count_query_name, description, pagination_json, parameters_json, response_json
		FROM config_endpoints`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config_endpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]config.EndpointConfig)
	var warnings []string

	for rows.Next() {
		var (
			cfg                        config.EndpointConfig
			countQuery, description    sql.NullString
			paginationJSON, paramsJSON sql.NullString
			responseJSON               sql.NullString
		)
		if err := rows.Scan(&cfg.Name, &cfg.Path, &cfg.Method, &cfg.Query,
			&countQuery, &description, &paginationJSON, &paramsJSON, &responseJSON); err != nil {
			return nil, nil, fmt.Errorf("failed to scan config_endpoints row: %w", err)
		}
		cfg.CountQuery = countQuery.String
		cfg.Description = description.String

		if paginationJSON.Valid && paginationJSON.String != "" {
			cfg.Pagination = &config.PaginationConfig{}
			if err := json.Unmarshal([]byte(paginationJSON.String), cfg.Pagination); err != nil {
				return nil, nil, fmt.Errorf("endpoint %q: invalid pagination_json: %w", cfg.Name, err)
			}
		}
		if !paramsJSON.Valid {
			warnings = append(warnings, fmt.Sprintf("endpoint %q: incomplete row (parameters_json is null), assuming no parameters", cfg.Name))
		} else if paramsJSON.String != "" {
			if err := json.Unmarshal([]byte(paramsJSON.String), &cfg.Parameters); err != nil {
				return nil, nil, fmt.Errorf("endpoint %q: invalid parameters_json: %w", cfg.Name, err)
			}
		}
		if responseJSON.Valid && responseJSON.String != "" {
			cfg.Response = &config.ResponseConfig{}
			if err := json.Unmarshal([]byte(responseJSON.String), cfg.Response); err != nil {
				return nil, nil, fmt.Errorf("endpoint %q: invalid response_json: %w", cfg.Name, err)
			}
		}

		out[cfg.Name] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, warnings, nil
}

func (s *DBSource) now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// UpsertDatabase updates or inserts one database definition
func (s *DBSource) UpsertDatabase(ctx context.Context, cfg config.DatabaseConfig) (bool, error) {
	var maxSize, minIdle, connTimeout, idleTimeout, maxLife, leakDetect *int
	var testQuery *string
	if cfg.Pool != nil {
		maxSize = cfg.Pool.MaxSize
		minIdle = cfg.Pool.MinIdle
		connTimeout = cfg.Pool.ConnectionTimeoutMs
		idleTimeout = cfg.Pool.IdleTimeoutMs
		maxLife = cfg.Pool.MaxLifetimeMs
		leakDetect = cfg.Pool.LeakDetectionMs
		if cfg.Pool.TestQuery != "" {
			testQuery = &cfg.Pool.TestQuery
		}
	}

	now := s.now()
	res, err := s.conn.ExecContext(ctx, s.sql(`UPDATE config_databases SET
		driver = ?, url = ?, username = ?, password = ?,
		max_pool_size = ?, min_idle = ?, connection_timeout_ms = ?,
		idle_timeout_ms = ?, max_lifetime_ms = ?, leak_detection_ms = ?,
		test_query = ?, updated_at = ?
		WHERE name = ?`),
		cfg.Driver, cfg.URL, cfg.Username, cfg.Password,
		maxSize, minIdle, connTimeout, idleTimeout, maxLife, leakDetect,
		testQuery, now, cfg.Name)
	if err != nil {
		return false, fmt.Errorf("failed to update database %q: %w", cfg.Name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.conn.ExecContext(ctx, s.sql(`INSERT INTO config_databases
		(name, driver, url, username, password, max_pool_size, min_idle,
		connection_timeout_ms, idle_timeout_ms, max_lifetime_ms,
		leak_detection_ms, test_query, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cfg.Name, cfg.Driver, cfg.URL, cfg.Username, cfg.Password,
		maxSize, minIdle, connTimeout, idleTimeout, maxLife, leakDetect,
		testQuery, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert database %q: %w", cfg.Name, err)
	}
	return true, nil
}

// UpsertQuery updates or inserts one query definition
func (s *DBSource) UpsertQuery(ctx context.Context, cfg config.QueryConfig) (bool, error) {
	paramsJSON, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return false, fmt.Errorf("failed to serialize parameters for query %q: %w", cfg.Name, err)
	}

	now := s.now()
	res, err := s.conn.ExecContext(ctx, s.sql(`UPDATE config_queries SET
		database_name = ?, sql_query = ?, description = ?,
		parameters_json = ?, updated_at = ?
		WHERE name = ?`),
		cfg.Database, cfg.SQL, cfg.Description, string(paramsJSON), now, cfg.Name)
	if err != nil {
		return false, fmt.Errorf("failed to update query %q: %w", cfg.Name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.conn.ExecContext(ctx, s.sql(`INSERT INTO config_queries
		(name, database_name, sql_query, description, parameters_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		cfg.Name, cfg.Database, cfg.SQL, cfg.Description, string(paramsJSON), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert query %q: %w", cfg.Name, err)
	}
	return true, nil
}

// UpsertEndpoint updates or inserts one endpoint definition
func (s *DBSource) UpsertEndpoint(ctx context.Context, cfg config.EndpointConfig) (bool, error) {
	var paginationJSON, responseJSON *string
	if cfg.Pagination != nil {
		b, err := json.Marshal(cfg.Pagination)
		if err != nil {
			return false, fmt.Errorf("failed to serialize pagination for endpoint %q: %w", cfg.Name, err)
		}
		str := string(b)
		paginationJSON = &str
	}
	if cfg.Response != nil {
		b, err := json.Marshal(cfg.Response)
		if err != nil {
			return false, fmt.Errorf("failed to serialize response hints for endpoint %q: %w", cfg.Name, err)
		}
		str := string(b)
		responseJSON = &str
	}
	paramsJSON, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return false, fmt.Errorf("failed to serialize parameters for endpoint %q: %w", cfg.Name, err)
	}

	var countQuery *string
	if cfg.CountQuery != "" {
		countQuery = &cfg.CountQuery
	}

	now := s.now()
	res, err := s.conn.ExecContext(ctx, s.sql(`UPDATE config_endpoints SET
		path = ?, method = ?, query_name = ?, count_query_name = ?,
		description = ?, pagination_json = ?, parameters_json = ?,
		response_json = ?, updated_at = ?
		WHERE name = ?`),
		cfg.Path, cfg.Method, cfg.Query, countQuery, cfg.Description,
		paginationJSON, string(paramsJSON), responseJSON, now, cfg.Name)
	if err != nil {
		return false, fmt.Errorf("failed to update endpoint %q: %w", cfg.Name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.conn.ExecContext(ctx, s.sql(`INSERT INTO config_endpoints
		(name, path, method, query_name, count_query_name, description,
		pagination_json, parameters_json, response_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cfg.Name, cfg.Path, cfg.Method, cfg.Query, countQuery, cfg.Description,
		paginationJSON, string(paramsJSON), responseJSON, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert endpoint %q: %w", cfg.Name, err)
	}
	return true, nil
}
