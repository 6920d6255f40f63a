package server

import (
	"net/http"
	"strings"

	"sql-gateway/internal/config"
)

// openAPIHandler serves a generated OpenAPI 3 document describing the
// declared endpoints.
func (s *Server) openAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*") // Swagger UI may load from anywhere
	writeJSON(w, http.StatusOK, s.openAPISpec())
}

func (s *Server) openAPISpec() map[string]any {
	paths := make(map[string]any)

	for name, ep := range s.registry.Endpoints() {
		op := map[string]any{
			"operationId": name,
			"summary":     ep.Description,
			"parameters":  openAPIParameters(ep),
			"responses": map[string]any{
				"200": map[string]any{"description": "Query result"},
				"400": map[string]any{"description": "Invalid parameter"},
				"404": map[string]any{"description": "No data found"},
				"503": map[string]any{"description": "Database unavailable"},
			},
		}
		if ep.Method == http.MethodPost && hasBodyParams(ep) {
			op["requestBody"] = map[string]any{
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"type": "object"},
					},
				},
			}
		}

		entry, ok := paths[ep.Path].(map[string]any)
		if !ok {
			entry = make(map[string]any)
			paths[ep.Path] = entry
		}
		entry[strings.ToLower(ep.Method)] = op
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "sql-gateway",
			"version": "1.0.0",
		},
		"paths": paths,
	}
}

func openAPIParameters(ep config.EndpointConfig) []map[string]any {
	params := make([]map[string]any, 0, len(ep.Parameters)+2)

	for _, p := range ep.Parameters {
		if p.Source == config.SourceBody {
			continue
		}
		in := "query"
		if p.Source == config.SourcePath {
			in = "path"
		}
		params = append(params, map[string]any{
			"name":     p.Name,
			"in":       in,
			"required": p.Required || in == "path",
			"schema":   map[string]any{"type": openAPIType(p.Type)},
		})
	}

	if ep.Paginated() {
		params = append(params,
			map[string]any{
				"name": "page", "in": "query", "required": false,
				"schema": map[string]any{"type": "integer", "default": 0},
			},
			map[string]any{
				"name": "size", "in": "query", "required": false,
				"schema": map[string]any{
					"type":    "integer",
					"default": ep.Pagination.DefaultSize,
					"maximum": ep.Pagination.MaxSize,
				},
			})
	}

	return params
}

func hasBodyParams(ep config.EndpointConfig) bool {
	for _, p := range ep.Parameters {
		if p.Source == config.SourceBody {
			return true
		}
	}
	return false
}

func openAPIType(t string) string {
	switch t {
	case config.TypeInteger, config.TypeLong:
		return "integer"
	case config.TypeDecimal:
		return "number"
	case config.TypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}
