// Package server wires the validated registry into an HTTP surface:
// one route per declared endpoint plus the management API. Routes are
// registered for every endpoint regardless of database reachability;
// availability is enforced per request.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sql-gateway/internal/cache"
	"sql-gateway/internal/config"
	"sql-gateway/internal/dispatch"
	"sql-gateway/internal/health"
	"sql-gateway/internal/logging"
	"sql-gateway/internal/metrics"
	"sql-gateway/internal/pool"
	"sql-gateway/internal/registry"
	"sql-gateway/internal/repository"
	"sql-gateway/internal/source"
)

// Server owns the HTTP listener and the runtime components behind it.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	source   source.Source

	pools      *pool.Manager
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	cache      *cache.Cache
	collector  *metrics.Collector

	httpServer *http.Server
	createdAt  time.Time
}

// New assembles the runtime from a validated registry.
func New(cfg *config.Config, reg *registry.Registry, src source.Source) (*Server, error) {
	pools := pool.NewManager(reg.Database)
	repo := repository.New(pools, reg.Database)

	dispatcher, err := dispatch.New(reg, pools, repo)
	if err != nil {
		pools.Close()
		return nil, err
	}

	databases := make([]string, 0, len(reg.Databases()))
	for name := range reg.Databases() {
		databases = append(databases, name)
	}
	interval := time.Duration(cfg.Health.ProbeIntervalMs) * time.Millisecond
	monitor, err := health.NewMonitor(pools, databases, interval)
	if err != nil {
		pools.Close()
		return nil, err
	}

	respCache, err := cache.New(reg.Endpoints())
	if err != nil {
		pools.Close()
		return nil, err
	}

	collector := metrics.NewCollector()
	monitor.OnResult(collector.SetDatabaseUp)
	collector.SetCacheSnapshotProvider(func() any { return respCache.GetSnapshot() })

	s := &Server{
		cfg:        cfg,
		registry:   reg,
		source:     src,
		pools:      pools,
		dispatcher: dispatcher,
		monitor:    monitor,
		cache:      respCache,
		collector:  collector,
		createdAt:  time.Now(),
	}

	router := s.buildRouter()

	// Write timeout covers the slowest allowed query plus headroom
	writeTimeout := time.Duration(cfg.Server.MaxTimeoutSec+30) * time.Second

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      recoveryMiddleware(requestIDMiddleware(gzipMiddleware(router))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.listEndpointsHandler)
	s.mountManagement(r)

	if s.cfg.Metrics.Enabled {
		r.Handle("/metrics", s.collector.Handler())
	}
	if s.cfg.Swagger.Enabled {
		r.Get("/openapi.json", s.openAPIHandler)
	}

	for name, ep := range s.registry.Endpoints() {
		r.Method(ep.Method, ep.Path, s.endpointHandler(ep))
		logging.Info("endpoint_registered", map[string]any{
			"name":      name,
			"method":    ep.Method,
			"path":      ep.Path,
			"query":     ep.Query,
			"paginated": ep.Paginated(),
		})
	}

	return r
}

// Start begins probing and listening. Blocks until the listener stops.
func (s *Server) Start() error {
	s.monitor.Start()

	logging.Info("server_starting", map[string]any{
		"addr":   s.httpServer.Addr,
		"source": s.registry.SourceName(),
	})
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener and releases every runtime component.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("server_shutting_down", nil)

	s.monitor.Stop()
	s.cache.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Error("http_shutdown_error", map[string]any{"error": err.Error()})
		return err
	}

	if err := s.pools.Close(); err != nil {
		logging.Error("pool_close_error", map[string]any{"error": err.Error()})
		return err
	}

	logging.Info("server_stopped", nil)
	return nil
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler exposes the full middleware-wrapped handler for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
