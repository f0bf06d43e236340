package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_HasAllStages(t *testing.T) {
	cfg := DefaultConfig()
	for _, name := range []string{"plan", "code", "review"} {
		stage, ok := cfg.Stages[name]
		require.Truef(t, ok, "missing stage %q", name)
		assert.NotEmpty(t, stage.Model)
		assert.Equal(t, 4096, stage.MaxTokens)
	}
}

func TestDefaultDirectConfig_MaxTokensCap(t *testing.T) {
	d := DefaultDirectConfig()
	assert.Equal(t, 8192, d.MaxTokensCap)
	assert.NotEmpty(t, d.AllowedModels)
}

func TestDefaultRateLimitConfig_Positive(t *testing.T) {
	r := DefaultRateLimitConfig()
	assert.Greater(t, r.DailyRequests, 0)
	assert.Greater(t, r.ConcurrentStreams, 0)
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cb := DefaultCircuitBreakerConfig()
	assert.Greater(t, cb.FailureThreshold, 0)
	assert.Greater(t, cb.RecoveryTimeout.Seconds(), float64(0))
}

func TestDefaultDatabaseConfig_DevModeByDefault(t *testing.T) {
	d := DefaultDatabaseConfig()
	assert.Empty(t, d.DSN())
}

func TestDefaultLiteLLMConfig_HasURL(t *testing.T) {
	l := DefaultLiteLLMConfig()
	assert.NotEmpty(t, l.URL)
	assert.Greater(t, l.Timeout.Seconds(), float64(0))
}

func TestDefaultServerConfig_PortInRange(t *testing.T) {
	s := DefaultServerConfig()
	assert.Greater(t, s.HTTPPort, 0)
	assert.LessOrEqual(t, s.HTTPPort, 65535)
}
