package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sql-gateway/internal/apierr"
	"sql-gateway/internal/cache"
	"sql-gateway/internal/config"
	"sql-gateway/internal/dispatch"
	"sql-gateway/internal/logging"
	"sql-gateway/internal/metrics"
	"sql-gateway/internal/repository"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// endpointHandler serves one declared endpoint.
func (s *Server) endpointHandler(ep config.EndpointConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		req, err := s.collectParameters(ep, r)
		if err != nil {
			status := writeError(w, r, err)
			s.recordRequest(ep, start, 0, 0, status, err, false)
			return
		}

		// Cached GET responses bypass dispatch entirely
		var key string
		if r.Method == http.MethodGet && s.cache.Enabled(ep.Name) {
			key = cache.Key(ep.Name, req.Merge())
			if entry, ok := s.cache.Get(ep.Name, key); ok {
				w.Header().Set("Content-Type", entry.ContentType)
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				w.Write(entry.Body)
				s.recordRequest(ep, start, 0, 0, http.StatusOK, nil, true)
				return
			}
			w.Header().Set("X-Cache", "MISS")
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		dispatchStart := time.Now()
		resp, err := s.dispatcher.Dispatch(ctx, ep.Name, req)
		queryDuration := time.Since(dispatchStart)
		if err != nil {
			status := writeError(w, r, err)
			s.recordRequest(ep, start, queryDuration, 0, status, err, false)
			return
		}

		body, err := json.Marshal(resp)
		if err != nil {
			status := writeError(w, r, apierr.Wrap(apierr.InternalError, err, "failed to serialize response"))
			s.recordRequest(ep, start, queryDuration, 0, status, err, false)
			return
		}

		if key != "" {
			s.cache.Set(ep.Name, key, body, "application/json")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)

		s.recordRequest(ep, start, queryDuration, rowCount(resp), http.StatusOK, nil, false)
	}
}

// collectParameters gathers path variables, query string values and
// body fields into a RequestParameters.
func (s *Server) collectParameters(ep config.EndpointConfig, r *http.Request) (dispatch.RequestParameters, error) {
	req := dispatch.RequestParameters{
		Path:  make(map[string]string),
		Query: make(map[string]string),
	}

	if rc := chi.RouteContext(r.Context()); rc != nil {
		for i, name := range rc.URLParams.Keys {
			if name == "*" {
				continue
			}
			req.Path[name] = rc.URLParams.Values[i]
		}
	}

	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[name] = values[0]
		}
	}

	if r.Method == http.MethodPost && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return req, apierr.Wrap(apierr.BadRequest, err, "failed to read request body")
		}
		if len(bytes.TrimSpace(body)) > 0 {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				return req, apierr.New(apierr.BadRequest, "unsupported content type: %s", ct)
			}
			fields := make(map[string]any)
			if err := json.Unmarshal(body, &fields); err != nil {
				return req, apierr.New(apierr.BadRequest, "request body is not a JSON object")
			}
			req.Body = fields
		}
	}

	return req, nil
}

// requestContext bounds the request by the server default timeout,
// honoring a client-supplied _timeout in seconds (capped at the maximum).
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.cfg.Server.DefaultTimeoutSec) * time.Second
	if raw := r.URL.Query().Get("_timeout"); raw != "" {
		if sec, err := strconv.Atoi(raw); err == nil && sec > 0 {
			if sec > s.cfg.Server.MaxTimeoutSec {
				sec = s.cfg.Server.MaxTimeoutSec
			}
			timeout = time.Duration(sec) * time.Second
		}
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (s *Server) recordRequest(ep config.EndpointConfig, start time.Time, queryDuration time.Duration, rows, status int, err error, cacheHit bool) {
	m := metrics.RequestMetrics{
		Endpoint:      ep.Name,
		QueryName:     ep.Query,
		TotalDuration: time.Since(start),
		QueryDuration: queryDuration,
		RowCount:      rows,
		StatusCode:    status,
		CacheHit:      cacheHit,
	}
	if err != nil {
		m.Error = apierr.KindOf(err).String()
	}
	s.collector.Record(m)

	logging.Debug("request_completed", map[string]any{
		"endpoint":    ep.Name,
		"status":      status,
		"duration_ms": m.TotalDuration.Milliseconds(),
		"rows":        rows,
		"cache_hit":   cacheHit,
	})
}

func rowCount(resp *dispatch.Response) int {
	switch data := resp.Data.(type) {
	case []repository.Record:
		return len(data)
	case repository.Record:
		return 1
	default:
		return 0
	}
}
