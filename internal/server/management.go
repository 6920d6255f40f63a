package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"sql-gateway/internal/config"
	"sql-gateway/internal/dispatch"
	"sql-gateway/internal/health"
	"sql-gateway/internal/logging"
	"sql-gateway/internal/migrate"
)

// mountManagement wires the management API under /api/management.
func (s *Server) mountManagement(r chi.Router) {
	r.Route("/api/management", func(r chi.Router) {
		r.Get("/config/databases", s.configDatabasesHandler)
		r.Get("/config/queries", s.configQueriesHandler)
		r.Get("/config/endpoints", s.configEndpointsHandler)
		r.Get("/config/metadata", s.configMetadataHandler)
		r.Get("/config/paths", s.configPathsHandler)
		r.Get("/config/contents", s.configContentsHandler)
		r.Get("/statistics", s.statisticsHandler)
		r.Get("/dashboard", s.dashboardHandler)
		r.Get("/loglevel", s.logLevelHandler)
		r.Post("/loglevel", s.logLevelHandler)
		r.Get("/health", s.healthHandler)
	})
	// Shorter alias for load balancer probes
	r.Get("/health", s.healthHandler)
}

func (s *Server) configDatabasesHandler(w http.ResponseWriter, r *http.Request) {
	databases := s.registry.Databases()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(databases),
		"databases": databases,
	})
}

func (s *Server) configQueriesHandler(w http.ResponseWriter, r *http.Request) {
	queries := s.registry.Queries()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(queries),
		"queries": queries,
	})
}

func (s *Server) configEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	endpoints := s.registry.Endpoints()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(endpoints),
		"endpoints": endpoints,
	})
}

// configMetadataHandler reports the active source and its entry counts
func (s *Server) configMetadataHandler(w http.ResponseWriter, r *http.Request) {
	status, err := migrate.CurrentStatus(r.Context(), s.source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// configPathsHandler lists the registered routes in route-key order
func (s *Server) configPathsHandler(w http.ResponseWriter, r *http.Request) {
	type route struct {
		Method    string `json:"method"`
		Path      string `json:"path"`
		Endpoint  string `json:"endpoint"`
		Query     string `json:"query"`
		Paginated bool   `json:"paginated"`
	}

	routes := make([]route, 0, len(s.registry.Endpoints()))
	for name, ep := range s.registry.Endpoints() {
		routes = append(routes, route{
			Method:    ep.Method,
			Path:      ep.Path,
			Endpoint:  name,
			Query:     ep.Query,
			Paginated: ep.Paginated(),
		})
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(routes),
		"paths": routes,
	})
}

// configContentsHandler dumps the full registry in one document
func (s *Server) configContentsHandler(w http.ResponseWriter, r *http.Request) {
	databases, queries, endpoints := s.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"source": s.registry.SourceName(),
		"counts": map[string]int{
			"databases": databases,
			"queries":   queries,
			"endpoints": endpoints,
		},
		"databases": s.registry.Databases(),
		"queries":   s.registry.Queries(),
		"endpoints": s.registry.Endpoints(),
		"warnings":  s.registry.Warnings(),
	})
}

// healthHandler reports aggregate health; overall DOWN answers 503.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := s.monitor.Snapshot()

	status := http.StatusOK
	if snapshot.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snapshot)
}

// statisticsHandler reports request aggregates and pool states. Cache
// counters arrive inside the collector snapshot via its provider hook.
func (s *Server) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": s.collector.GetSnapshot(),
		"pools":    s.pools.States(),
	})
}

// dashboardHandler aggregates the operational views into one document
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	databases, queries, endpoints := s.registry.Counts()

	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "sql-gateway",
		"uptimeSec": int64(time.Since(s.createdAt).Seconds()),
		"source":    s.registry.SourceName(),
		"registry": map[string]int{
			"databases": databases,
			"queries":   queries,
			"endpoints": endpoints,
		},
		"health":   s.monitor.Snapshot(),
		"pools":    s.pools.States(),
		"requests": s.collector.GetSnapshot(),
		"warnings": s.registry.Warnings(),
	})
}

func (s *Server) logLevelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		level := r.URL.Query().Get("level")
		if level == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "level parameter required (debug, info, warn, error)",
			})
			return
		}

		logging.SetLevel(level)
		logging.Info("log_level_changed", map[string]any{"new_level": level})

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "level": level})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"current_level": s.cfg.Logging.Level,
		"usage":         "POST /api/management/loglevel?level=debug|info|warn|error",
	})
}

// listEndpointsHandler answers the root path with a service summary
func (s *Server) listEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	type endpointInfo struct {
		Name        string                     `json:"name"`
		Route       string                     `json:"route"`
		Path        string                     `json:"path"`
		Method      string                     `json:"method"`
		Query       string                     `json:"query"`
		Description string                     `json:"description,omitempty"`
		Parameters  []config.EndpointParameter `json:"parameters,omitempty"`
		Paginated   bool                       `json:"paginated"`
	}

	endpoints := make([]endpointInfo, 0, len(s.registry.Endpoints()))
	for name, ep := range s.registry.Endpoints() {
		endpoints = append(endpoints, endpointInfo{
			Name:        name,
			Route:       dispatch.Describe(ep),
			Path:        ep.Path,
			Method:      ep.Method,
			Query:       ep.Query,
			Description: ep.Description,
			Parameters:  ep.Parameters,
			Paginated:   ep.Paginated(),
		})
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })

	writeJSON(w, http.StatusOK, map[string]any{
		"service":             "sql-gateway",
		"default_timeout_sec": s.cfg.Server.DefaultTimeoutSec,
		"max_timeout_sec":     s.cfg.Server.MaxTimeoutSec,
		"endpoints":           endpoints,
	})
}
