package server

import (
	"encoding/json"
	"net/http"
	"time"

	"sql-gateway/internal/apierr"
	"sql-gateway/internal/logging"
)

// errorBody is the uniform error envelope written for every failure
type errorBody struct {
	Error      string    `json:"error"`
	ErrorCode  string    `json:"errorCode"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("response_write_failed", map[string]any{"error": err.Error()})
	}
}

// writeError maps an error to its HTTP status and envelope. Internal
// causes are logged but never leak into the body.
func writeError(w http.ResponseWriter, r *http.Request, err error) int {
	kind := apierr.KindOf(err)
	status := kind.HTTPStatus()

	if kind == apierr.InternalError {
		logging.Error("request_failed", map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
			"error":  err.Error(),
		})
	}

	writeJSON(w, status, errorBody{
		Error:      apierr.MessageOf(err),
		ErrorCode:  kind.String(),
		StatusCode: status,
		Timestamp:  time.Now(),
	})
	return status
}
