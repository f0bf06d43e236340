package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/api"
)

func TestHandleHealth_AllPass(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	h.RegisterCheck(Check{Name: "config", Critical: true, Probe: func(ctx context.Context) error { return nil }})
	h.RegisterCheck(Check{Name: "db", Critical: false, Probe: func(ctx context.Context) error { return nil }})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, api.HealthHealthy, body.Status)
}

func TestHandleHealth_OptionalFailureDegrades(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	h.RegisterCheck(Check{Name: "config", Critical: true, Probe: func(ctx context.Context) error { return nil }})
	h.RegisterCheck(Check{Name: "db", Critical: false, Probe: func(ctx context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, api.HealthDegraded, body.Status)
}

func TestHandleHealth_CriticalFailureIsUnhealthy(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	h.RegisterCheck(Check{Name: "config", Critical: true, Probe: func(ctx context.Context) error { return errors.New("missing") }})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, api.HealthUnhealthy, body.Status)
}

func TestHandleHealth_NoChecksIsHealthy(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleLiveness_AlwaysHealthy(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.HandleLiveness(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadiness_ReflectsChecks(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	h.RegisterCheck(Check{Name: "config", Critical: true, Probe: func(ctx context.Context) error { return errors.New("boom") }})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.HandleReadiness(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
