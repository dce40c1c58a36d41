package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
)

const checkTimeout = 2 * time.Second

// HealthHandler serves the health check.
type HealthHandler struct {
	clock  chain.Clock
	mode   string
	checks map[string]func(context.Context) error
}

func NewHealthHandler(clock chain.Clock, mode string) *HealthHandler {
	return &HealthHandler{clock: clock, mode: mode}
}

// WithChecks adds named readiness checks, such as store pings.
func (h *HealthHandler) WithChecks(checks map[string]func(context.Context) error) *HealthHandler {
	h.checks = checks
	return h
}

// HealthCheck reports the current block and the state of every check. Any
// failing check turns the answer into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{
		"status":    status,
		"mode":      h.mode,
		"block":     h.clock.BlockNumber(),
		"chain_now": time.Unix(int64(h.clock.Now()), 0).UTC().Format(time.RFC3339),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(results) > 0 {
		body["checks"] = results
	}
	writeJSON(w, code, body)
}
