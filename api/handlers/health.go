package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/api"
)

// Check is a single dependency probe. Critical checks determine whether
// the service reports degraded vs. unhealthy when they fail (spec.md §6).
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// HealthHandler serves GET /health (and the additive /healthz, /readyz)
// by running registered checks and folding their results into the
// healthy/degraded/unhealthy verdict spec.md §6 defines.
type HealthHandler struct {
	logger  *zap.Logger
	version string

	mu     sync.RWMutex
	checks []Check
}

// NewHealthHandler builds a HealthHandler with no checks. The server
// registers two critical checks via RegisterCheck before serving, a
// configuration-loaded check and an upstream-client-configured check, so
// that /health is healthy iff all checks pass and degraded iff only
// optional checks fail.
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger, version: version}
}

// RegisterCheck adds a dependency probe run on every /health request.
func (h *HealthHandler) RegisterCheck(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// HandleHealth serves GET /health.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make(map[string]string, len(checks))
	allPass, criticalPass := true, true

	for _, c := range checks {
		if err := c.Probe(ctx); err != nil {
			results[c.Name] = "fail: " + err.Error()
			allPass = false
			if c.Critical {
				criticalPass = false
			}
			h.logger.Warn("health check failed", zap.String("check", c.Name), zap.Bool("critical", c.Critical), zap.Error(err))
			continue
		}
		results[c.Name] = "pass"
	}

	status := api.HealthHealthy
	httpStatus := http.StatusOK
	switch {
	case allPass:
	case criticalPass:
		status = api.HealthDegraded
	default:
		status = api.HealthUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	WriteJSON(w, httpStatus, api.HealthResponse{
		Status:    status,
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	})
}

// HandleLiveness serves GET /healthz: process is up, no dependency
// checks. Additive to spec.md §6 per SPEC_FULL.md §6.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.HealthResponse{
		Status:    api.HealthHealthy,
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness serves GET /readyz: same dependency checks as /health,
// Kubernetes-probe framing.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}
