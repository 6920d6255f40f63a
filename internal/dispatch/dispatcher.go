// Package dispatch owns the request-to-parameter coercion semantics:
// it validates request parameters, applies pagination arithmetic,
// invokes the repository and shapes the response. Dispatching is
// deterministic and side-effect-free beyond the query execution.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"sql-gateway/internal/apierr"
	"sql-gateway/internal/config"
	"sql-gateway/internal/pool"
	"sql-gateway/internal/registry"
	"sql-gateway/internal/repository"
)

// Response shape kinds
const (
	ShapeSingle = "SINGLE"
	ShapeList   = "LIST"
	ShapePaged  = "PAGED"
)

// Pagination parameter names reserved in the working map
const (
	paramPage   = "page"
	paramSize   = "size"
	paramLimit  = "limit"
	paramOffset = "offset"
)

// PageInfo describes one page of a paged response
type PageInfo struct {
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
}

// Response is the shaped result of one endpoint invocation
type Response struct {
	Type       string    `json:"type"`
	Data       any       `json:"data"`
	Pagination *PageInfo `json:"pagination,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Dispatcher executes endpoint invocations against the registry.
type Dispatcher struct {
	registry *registry.Registry
	pools    *pool.Manager
	repo     *repository.Repository

	// Compiled parameter validation rules, keyed endpoint/parameter
	rules map[string]*vm.Program
}

// New creates a Dispatcher and precompiles declared validation rules.
// A rule that does not compile is a configuration error.
func New(reg *registry.Registry, pools *pool.Manager, repo *repository.Repository) (*Dispatcher, error) {
	d := &Dispatcher{
		registry: reg,
		pools:    pools,
		repo:     repo,
		rules:    make(map[string]*vm.Program),
	}

	for name, ep := range reg.Endpoints() {
		for _, p := range ep.Parameters {
			if p.Validate == "" {
				continue
			}
			prog, err := expr.Compile(p.Validate, expr.AsBool(), expr.AllowUndefinedVariables())
			if err != nil {
				return nil, apierr.Wrap(apierr.ConfigurationError, err,
					"endpoint %q: parameter %q has an invalid validation rule", name, p.Name)
			}
			d.rules[name+"/"+p.Name] = prog
		}
	}
	return d, nil
}

// Dispatch runs the full pipeline for one endpoint invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, endpointName string, req RequestParameters) (*Response, error) {
	ep, ok := d.registry.Endpoint(endpointName)
	if !ok {
		return nil, apierr.New(apierr.NotFound, "unknown endpoint: %s", endpointName)
	}

	// The registry guarantees this resolves; treat a miss as a
	// consistency failure, not a client error.
	query, ok := d.registry.Query(ep.Query)
	if !ok {
		return nil, apierr.New(apierr.InternalError, "endpoint %s references missing query %s", endpointName, ep.Query)
	}

	if !d.pools.IsAvailable(query.Database) {
		reason := d.pools.FailureReason(query.Database)
		return nil, apierr.New(apierr.ServiceUnavailable,
			"database %s is unavailable: %s", query.Database, reason)
	}

	working := req.Merge()

	var page, size int
	if ep.Paginated() {
		var err error
		page, size, err = extractPagination(working, ep.Pagination)
		if err != nil {
			return nil, err
		}
		working[paramLimit] = int64(size)
		working[paramOffset] = int64(page * size)
	}

	bound, err := d.bindParameters(ep, query, req, working, nil)
	if err != nil {
		return nil, err
	}

	records, err := d.repo.ExecuteQuery(ctx, query, bound)
	if err != nil {
		return nil, err
	}

	if ep.Paginated() {
		return d.shapePaged(ctx, ep, query, req, working, records, page, size)
	}
	return shapePlain(ep, records)
}

// extractPagination pulls page/size from the working map, applying
// defaults and bounds.
func extractPagination(working map[string]any, p *config.PaginationConfig) (int, int, error) {
	page := 0
	size := p.DefaultSize

	if raw, ok := working[paramPage]; ok {
		v, err := Coerce(raw, config.TypeInteger)
		if err != nil {
			return 0, 0, apierr.New(apierr.BadRequest, "invalid page parameter: %v", err)
		}
		page = int(v.(int32))
	}
	if raw, ok := working[paramSize]; ok {
		v, err := Coerce(raw, config.TypeInteger)
		if err != nil {
			return 0, 0, apierr.New(apierr.BadRequest, "invalid size parameter: %v", err)
		}
		size = int(v.(int32))
	}

	if page < 0 {
		return 0, 0, apierr.New(apierr.BadRequest, "page must be >= 0, got %d", page)
	}
	if size <= 0 {
		return 0, 0, apierr.New(apierr.BadRequest, "size must be > 0, got %d", size)
	}
	if size > p.MaxSize {
		return 0, 0, apierr.New(apierr.BadRequest, "size must be <= %d, got %d", p.MaxSize, size)
	}

	return page, size, nil
}

// bindParameters walks the query's declared parameters in order and
// builds the bound list. Optional missing parameters are skipped, so
// positions stay contiguous. Names in skip are excluded entirely
// (count query derivation).
func (d *Dispatcher) bindParameters(ep config.EndpointConfig, query config.QueryConfig, req RequestParameters, working map[string]any, skip map[string]bool) ([]repository.BoundParam, error) {
	declared := endpointParamIndex(ep)

	var bound []repository.BoundParam
	for _, qp := range query.Parameters {
		if skip[qp.Name] {
			continue
		}

		raw, present := resolveValue(qp.Name, declared, req, working)
		if !present {
			if qp.Required {
				return nil, apierr.New(apierr.BadRequest, "missing required parameter: %s", qp.Name)
			}
			continue
		}

		typed, err := Coerce(raw, qp.Type)
		if err != nil {
			return nil, apierr.New(apierr.BadRequest, "invalid value for parameter %s: %v", qp.Name, err)
		}

		if err := d.applyRule(ep.Name, qp.Name, typed); err != nil {
			return nil, err
		}

		bound = append(bound, repository.BoundParam{
			Name:     qp.Name,
			Type:     qp.Type,
			Value:    typed,
			Position: len(bound) + 1,
		})
	}
	return bound, nil
}

// resolveValue prefers the endpoint's declared capture source for a
// parameter; undeclared parameters read the merged working map.
func resolveValue(name string, declared map[string]config.EndpointParameter, req RequestParameters, working map[string]any) (any, bool) {
	if epp, ok := declared[name]; ok && epp.Source != "" {
		return req.lookupBySource(name, epp.Source)
	}
	v, ok := working[name]
	return v, ok
}

func endpointParamIndex(ep config.EndpointConfig) map[string]config.EndpointParameter {
	if len(ep.Parameters) == 0 {
		return nil
	}
	out := make(map[string]config.EndpointParameter, len(ep.Parameters))
	for _, p := range ep.Parameters {
		out[p.Name] = p
	}
	return out
}

// applyRule evaluates a declared validation expression over the coerced value
func (d *Dispatcher) applyRule(endpointName, paramName string, value any) error {
	prog, ok := d.rules[endpointName+"/"+paramName]
	if !ok {
		return nil
	}

	out, err := expr.Run(prog, map[string]any{"value": normalizeForRule(value)})
	if err != nil {
		return apierr.Wrap(apierr.BadRequest, err, "parameter %s failed validation", paramName)
	}
	if pass, _ := out.(bool); !pass {
		return apierr.New(apierr.BadRequest, "parameter %s failed validation", paramName)
	}
	return nil
}

// normalizeForRule widens numeric types so rules compare naturally
func normalizeForRule(v any) any {
	switch n := v.(type) {
	case int32:
		return int64(n)
	default:
		return v
	}
}

// shapePaged runs the optional count query and assembles a PAGED response.
func (d *Dispatcher) shapePaged(ctx context.Context, ep config.EndpointConfig, query config.QueryConfig, req RequestParameters, working map[string]any, records []repository.Record, page, size int) (*Response, error) {
	var totalElements int64
	if ep.CountQuery != "" {
		countQuery, ok := d.registry.Query(ep.CountQuery)
		if !ok {
			return nil, apierr.New(apierr.InternalError, "endpoint %s references missing count query %s", ep.Name, ep.CountQuery)
		}

		// Parallel parameter list without limit/offset, positions renumbered
		skip := map[string]bool{paramLimit: true, paramOffset: true}
		countBound, err := d.bindParameters(ep, query, req, working, skip)
		if err != nil {
			return nil, err
		}

		totalElements, err = d.repo.ExecuteCountQuery(ctx, countQuery, countBound)
		if err != nil {
			return nil, err
		}
	} else {
		// No count query: totals reflect the fetched page only
		totalElements = int64(len(records))
	}

	totalPages := int((totalElements + int64(size) - 1) / int64(size))
	info := &PageInfo{
		Page:          page,
		Size:          size,
		TotalElements: totalElements,
		TotalPages:    totalPages,
		First:         page == 0,
		Last:          page+1 >= totalPages,
	}

	if records == nil {
		records = []repository.Record{}
	}
	return &Response{
		Type:       ShapePaged,
		Data:       records,
		Pagination: info,
		Timestamp:  time.Now(),
	}, nil
}

// shapePlain derives SINGLE or LIST from cardinality (or the endpoint's
// response hint).
func shapePlain(ep config.EndpointConfig, records []repository.Record) (*Response, error) {
	if len(records) == 0 {
		return nil, apierr.New(apierr.NotFound, "No data found")
	}

	hint := ""
	if ep.Response != nil {
		hint = ep.Response.Type
	}

	switch {
	case hint == ShapeSingle || (hint == "" && len(records) == 1):
		return &Response{
			Type:      ShapeSingle,
			Data:      records[0],
			Timestamp: time.Now(),
		}, nil
	default:
		return &Response{
			Type:      ShapeList,
			Data:      records,
			Timestamp: time.Now(),
		}, nil
	}
}

// Describe summarizes an endpoint for listings (management API).
func Describe(ep config.EndpointConfig) string {
	return fmt.Sprintf("%s %s -> %s", ep.Method, ep.Path, ep.Query)
}
