package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/photoclip/smoothie/internal/health"
)

// UnhealthyHeader lists the backends that failed their last health check
const UnhealthyHeader = "Smoothie-Unhealthy"

// Health reports the status of the health checks.
// An unhealthy status is served as a 503, so load balancers take the instance out of rotation.
func Health(healthChecker *health.Checker) Handler {
	return func(w http.ResponseWriter, r *http.Request) *Error {
		status := healthChecker.Status()

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Content-Type", "application/json")

		if !status.Healthy {
			if failing := status.Failing(); len(failing) > 0 {
				w.Header().Set(UnhealthyHeader, strings.Join(failing, ", "))
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(status); err != nil {
			return InternalServerError()
		}

		return nil
	}
}
