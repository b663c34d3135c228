package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves the aggregate status as JSON. Unhealthy aggregates return
// 503 so orchestrator liveness probes fail; degraded still returns 200.
func Handler(monitor *Monitor, serviceName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := monitor.AggregateHealth(serviceName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Warn("health response encode failed", "error", err)
		}
	})
}
