package config

import "time"

// DefaultConfig returns the gateway's default configuration: three stage
// bindings (plan, code, review) with conservative models, a direct-mode
// allowlist, dev-mode database (empty DSN), and a local
// LiteLLM proxy.
func DefaultConfig() *Config {
	return &Config{
		Stages:         DefaultStagesConfig(),
		Direct:         DefaultDirectConfig(),
		RateLimit:      DefaultRateLimitConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Database:       DefaultDatabaseConfig(),
		LiteLLM:        DefaultLiteLLMConfig(),
		Log:            DefaultLogConfig(),
		Server:         DefaultServerConfig(),
		Version:        "dev",
	}
}

// DefaultStagesConfig returns the plan/code/review/direct-adjacent stage
// bindings. max_tokens defaults to 4096 and temperature to 0.3 per
// spec.md §6, overridden per stage where a different balance of
// verbosity and determinism makes sense.
func DefaultStagesConfig() map[string]StageConfig {
	return map[string]StageConfig{
		"plan": {
			Model:       "gpt-4-turbo",
			MaxTokens:   4096,
			Temperature: 0.3,
			Fallback:    []string{"gpt-4"},
		},
		"code": {
			Model:       "gpt-4",
			MaxTokens:   4096,
			Temperature: 0.2,
			Fallback:    []string{"gpt-4-turbo"},
		},
		"review": {
			Model:       "claude-3-opus",
			MaxTokens:   4096,
			Temperature: 0.1,
			Fallback:    []string{"claude-3-sonnet"},
		},
	}
}

// DefaultDirectConfig returns the allowlist for X-CFX-Stage: direct.
func DefaultDirectConfig() DirectConfig {
	return DirectConfig{
		AllowedModels: []string{"gpt-4", "gpt-4-turbo", "claude-3-opus", "claude-3-sonnet"},
		MaxTokensCap:  8192,
	}
}

// DefaultRateLimitConfig returns the per-user daily and concurrency caps.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		DailyRequests:     1000,
		ConcurrentStreams: 4,
	}
}

// DefaultCircuitBreakerConfig returns the per-model breaker thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// DefaultDatabaseConfig returns an empty database config: dev mode, no
// durable store configured.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		MinConnections: 2,
		MaxConnections: 10,
		SSLMode:        "disable",
	}
}

// DefaultLiteLLMConfig returns the upstream proxy defaults.
func DefaultLiteLLMConfig() LiteLLMConfig {
	return LiteLLMConfig{
		URL:     "http://localhost:4000",
		Timeout: 60 * time.Second,
	}
}

// DefaultLogConfig returns the structured logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultServerConfig returns the HTTP listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}
