package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheckFunc probes one backing dependency.
type HealthCheckFunc func(ctx context.Context) error

// HealthHandler serves the health-check endpoint, probing each registered
// dependency with a short timeout.
type HealthHandler struct {
	checks map[string]HealthCheckFunc
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be nil, in which case
// the endpoint only reports that the process is alive.
func NewHealthHandler(checks map[string]HealthCheckFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck reports overall status plus per-dependency connectivity.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "unreachable"
			status = "degraded"
		} else {
			deps[name] = "ok"
		}
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	writeJSON(w, http.StatusOK, body)
}
