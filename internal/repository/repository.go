// Package repository executes declared queries with typed positional
// parameters against the named pool and projects result sets into
// ordered records. Parameter name resolution happens upstream in the
// dispatcher; the repository receives bound, ordered parameters.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"sql-gateway/internal/apierr"
	"sql-gateway/internal/config"
	"sql-gateway/internal/db"
	"sql-gateway/internal/logging"
	"sql-gateway/internal/pool"
)

// BoundParam is one parameter ready for positional binding.
// Position is 1-based and contiguous within a bound list.
type BoundParam struct {
	Name     string
	Type     string
	Value    any // Typed per config; nil binds SQL NULL
	Position int
}

// Repository executes queries through the pool manager.
type Repository struct {
	pools  *pool.Manager
	lookup func(name string) (config.DatabaseConfig, bool)
}

// New creates a Repository resolving database definitions through the
// given lookup (normally registry.Database).
func New(pools *pool.Manager, lookup func(name string) (config.DatabaseConfig, bool)) *Repository {
	return &Repository{pools: pools, lookup: lookup}
}

// ExecuteQuery runs a declared query with its bound parameters and
// returns the projected rows. The acquired connection, the prepared
// statement and the row iterator are released on every exit path.
func (r *Repository) ExecuteQuery(ctx context.Context, query config.QueryConfig, params []BoundParam) ([]Record, error) {
	rows, cleanup, err := r.run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	columns, err := rows.Columns()
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, err, "query %s failed", query.Name)
	}

	var results []Record
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, err, "query %s failed", query.Name)
		}
		results = append(results, NewRecord(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, err, "query %s failed", query.Name)
	}

	return results, nil
}

// ExecuteCountQuery runs a count query and reads column 1 of the first
// row as a 64-bit count. No rows yields 0 with a warning.
func (r *Repository) ExecuteCountQuery(ctx context.Context, query config.QueryConfig, params []BoundParam) (int64, error) {
	rows, cleanup, err := r.run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, apierr.Wrap(apierr.InternalError, err, "count query %s failed", query.Name)
		}
		logging.Warn("count_query_empty", map[string]any{"query": query.Name})
		return 0, nil
	}

	var count int64
	if err := rows.Scan(&count); err != nil {
		return 0, apierr.Wrap(apierr.InternalError, err, "count query %s returned a non-numeric first column", query.Name)
	}
	return count, nil
}

// run acquires a connection, prepares the statement and executes it.
// The returned cleanup closes rows, statement and connection in order.
func (r *Repository) run(ctx context.Context, query config.QueryConfig, params []BoundParam) (*sql.Rows, func(), error) {
	dbCfg, ok := r.lookup(query.Database)
	if !ok {
		return nil, nil, apierr.New(apierr.InternalError, "query %s references unknown database %s", query.Name, query.Database)
	}

	conn, err := r.pools.Acquire(ctx, query.Database)
	if err != nil {
		return nil, nil, err
	}

	stmt, err := conn.PrepareContext(ctx, db.TranslatePlaceholders(dbCfg.Driver, query.SQL))
	if err != nil {
		conn.Close()
		return nil, nil, apierr.Wrap(apierr.InternalError, err, "query %s failed to prepare", query.Name)
	}

	args, err := bindArgs(params)
	if err != nil {
		stmt.Close()
		conn.Close()
		return nil, nil, apierr.Wrap(apierr.InternalError, err, "query %s has unbindable parameters", query.Name)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		stmt.Close()
		conn.Close()
		return nil, nil, apierr.Wrap(apierr.InternalError, err, "query %s failed", query.Name)
	}

	cleanup := func() {
		rows.Close()
		stmt.Close()
		conn.Close()
	}
	return rows, cleanup, nil
}

// bindArgs orders params by position and converts typed values to
// driver-bindable representations.
func bindArgs(params []BoundParam) ([]any, error) {
	ordered := make([]BoundParam, len(params))
	copy(ordered, params)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	args := make([]any, 0, len(ordered))
	for _, p := range ordered {
		v, err := bindValue(p)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func bindValue(p BoundParam) (any, error) {
	if p.Value == nil {
		return nil, nil // SQL NULL
	}

	switch p.Type {
	case config.TypeString:
		v, ok := p.Value.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %s: expected string, got %T", p.Name, p.Value)
		}
		return v, nil

	case config.TypeInteger:
		v, ok := p.Value.(int32)
		if !ok {
			return nil, fmt.Errorf("parameter %s: expected int32, got %T", p.Name, p.Value)
		}
		return int64(v), nil

	case config.TypeLong:
		v, ok := p.Value.(int64)
		if !ok {
			return nil, fmt.Errorf("parameter %s: expected int64, got %T", p.Name, p.Value)
		}
		return v, nil

	case config.TypeDecimal:
		v, ok := p.Value.(decimal.Decimal)
		if !ok {
			return nil, fmt.Errorf("parameter %s: expected decimal, got %T", p.Name, p.Value)
		}
		// Bind as the exact string form; drivers coerce server-side
		return v.String(), nil

	case config.TypeBoolean:
		v, ok := p.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("parameter %s: expected bool, got %T", p.Name, p.Value)
		}
		return v, nil

	case config.TypeTimestamp:
		v, ok := p.Value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("parameter %s: expected time, got %T", p.Name, p.Value)
		}
		return v, nil

	default:
		return nil, fmt.Errorf("parameter %s: unknown type %s", p.Name, p.Type)
	}
}
