package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/auth"
	"github.com/cfxrouter/gateway/circuitbreaker"
	"github.com/cfxrouter/gateway/concurrency"
	"github.com/cfxrouter/gateway/quota"
	"github.com/cfxrouter/gateway/types"
)

// AdminHandler serves the operational introspection surface: concurrency
// and circuit-breaker stats, and the support-escalation quota override.
// Every route requires an admin-status API key.
type AdminHandler struct {
	authenticator *auth.Authenticator
	concurrency   *concurrency.Limiter
	breakers      *circuitbreaker.Registry
	quota         quota.Counter
	dailyLimit    int
	logger        *zap.Logger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(authenticator *auth.Authenticator, concurrencyLimiter *concurrency.Limiter, breakers *circuitbreaker.Registry, quotaCounter quota.Counter, dailyLimit int, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		authenticator: authenticator,
		concurrency:   concurrencyLimiter,
		breakers:      breakers,
		quota:         quotaCounter,
		dailyLimit:    dailyLimit,
		logger:        logger,
	}
}

// requireAdmin authenticates the request and rejects non-admin principals.
// Returns false (and has already written a response) when access is denied.
func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	principal, err := h.authenticator.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "invalid or missing credentials", h.logger)
		return types.Principal{}, false
	}
	if !principal.IsAdmin {
		WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden, "admin credentials required", h.logger)
		return types.Principal{}, false
	}
	return principal, true
}

// concurrencyStatsResponse is the GET /v1/admin/concurrency body.
type concurrencyStatsResponse struct {
	TotalActive int                     `json:"total_active"`
	PerUser     []concurrency.UserStats `json:"per_user"`
}

// HandleConcurrencyStats serves GET /v1/admin/concurrency.
func (h *AdminHandler) HandleConcurrencyStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	perUser, total := h.concurrency.Stats()
	WriteJSON(w, http.StatusOK, concurrencyStatsResponse{TotalActive: total, PerUser: perUser})
}

// breakerStatsResponse is the GET /v1/admin/breakers body.
type breakerStatsResponse struct {
	Breakers []circuitbreaker.Stats `json:"breakers"`
}

// HandleBreakerStats serves GET /v1/admin/breakers.
func (h *AdminHandler) HandleBreakerStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	WriteJSON(w, http.StatusOK, breakerStatsResponse{Breakers: h.breakers.AllStats()})
}

// HandleBreakerReset serves POST /v1/admin/breakers/reset: trips every
// breaker in the registry back to closed.
func (h *AdminHandler) HandleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	h.breakers.ResetAll()
	h.logger.Info("admin reset all circuit breakers")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// quotaStatusResponse is the GET /v1/admin/quota/{user_id} body.
type quotaStatusResponse struct {
	UserID    string `json:"user_id"`
	Limit     int    `json:"limit"`
	Current   int    `json:"current"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

// HandleQuotaStatus serves GET /v1/admin/quota/{user_id}.
func (h *AdminHandler) HandleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	userID, ok := adminPathUserID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing user_id", h.logger)
		return
	}

	status, err := h.quota.Status(r.Context(), userID, h.dailyLimit)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to read quota status", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, quotaStatusResponse{
		UserID:    userID,
		Limit:     h.dailyLimit,
		Current:   status.Current,
		Remaining: status.Remaining,
		ResetAt:   status.ResetAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// HandleQuotaReset serves POST /v1/admin/quota/{user_id}/reset: clears a
// user's counter for the current UTC day, a support-escalation override.
func (h *AdminHandler) HandleQuotaReset(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	userID, ok := adminPathUserID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing user_id", h.logger)
		return
	}

	if err := h.quota.Reset(r.Context(), userID); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to reset quota", h.logger)
		return
	}

	h.logger.Info("admin reset user quota", zap.String("user_id", userID))
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// adminPathUserID extracts the {user_id} path segment, preferring Go 1.22+
// ServeMux path values and falling back to manual parsing of
// /v1/admin/quota/<user_id>[/reset].
func adminPathUserID(r *http.Request) (string, bool) {
	if id := r.PathValue("user_id"); id != "" {
		return id, true
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i, p := range parts {
		if p == "quota" && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	return "", false
}
