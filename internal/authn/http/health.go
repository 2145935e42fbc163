package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/httpx"
	"github.com/aussiebroadwan/tokengate/pkg/slogx"
)

// HealthResponse is the body of /livez and /readyz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// LivezHandler answers 200 for as long as the process serves requests.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler runs every check and answers 503 if any fails. Failure
// details are logged, the body only says which check failed.
func ReadyzHandler(startTime time.Time, version string, checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := slogx.FromContext(r.Context())

		resp := HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  make(map[string]string, len(checks)),
		}
		status := http.StatusOK

		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				log.Warn("readiness check failed", "check", name, "error", err)
				resp.Checks[name] = "error"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		httpx.WriteJSON(w, status, resp)
	}
}
