package handlers

import (
	"net/http"
	"time"
)

// Health handles GET /health. It reports liveness only; inference
// availability is on the dashboard capability endpoint.
func Health(version string) http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"version":        version,
			"uptime_seconds": int64(time.Since(started).Seconds()),
		})
	}
}
