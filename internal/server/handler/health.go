package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks one dependency's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a HealthHandler over the named dependency checks.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthCheck pings every dependency and reports per-dependency status.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	writeJSON(w, status, map[string]any{
		"status":       httpStatusWord(status),
		"dependencies": deps,
		"time":         time.Now().UTC(),
	})
}

func httpStatusWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}
