// Package config loads the gateway's configuration from a YAML file and
// environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    Load()
//
// Precedence: typed defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's complete configuration.
type Config struct {
	Stages        map[string]StageConfig `yaml:"stages"`
	Direct        DirectConfig           `yaml:"direct"`
	RateLimit     RateLimitConfig        `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig  `yaml:"circuit_breaker"`

	Database DatabaseConfig `yaml:"database"`
	LiteLLM  LiteLLMConfig  `yaml:"litellm"`
	Log      LogConfig      `yaml:"log"`

	Server ServerConfig `yaml:"server"`

	Debug   bool   `yaml:"debug"`
	Version string `yaml:"version"`
}

// StageConfig is one `stages.<name>` entry.
type StageConfig struct {
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	Fallback    []string `yaml:"fallback"`
}

// DirectConfig is the `direct` section: routing for X-CFX-Stage: direct.
type DirectConfig struct {
	AllowedModels []string `yaml:"allowed_models"`
	MaxTokensCap  int      `yaml:"max_tokens_cap"`
}

// RateLimitConfig is the `rate_limit` section.
type RateLimitConfig struct {
	DailyRequests     int `yaml:"daily_requests"`
	ConcurrentStreams int `yaml:"concurrent_streams"`
}

// CircuitBreakerConfig is the `circuit_breaker` section.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// DatabaseConfig configures the durable store. An empty DSN() (no URL and no
// Host) means dev mode (in-memory quota counter, no persisted api keys or
// logs).
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	MinConnections int    `yaml:"min_connections"`
	MaxConnections int    `yaml:"max_connections"`
	SSLMode        string `yaml:"ssl_mode"`
}

// LiteLLMConfig configures the upstream OpenAI-compatible proxy.
type LiteLLMConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	APIKeySalt string `yaml:"-"`
	HashSalt   string `yaml:"-"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level        string   `yaml:"level"`
	Format       string   `yaml:"format"`
	OutputPaths  []string `yaml:"output_paths"`
	EnableCaller bool     `yaml:"enable_caller"`
}

// ServerConfig configures the HTTP listener. Additive: not named in
// spec.md §6, but every HTTP service needs a bind address and timeouts.
type ServerConfig struct {
	HTTPPort           int           `yaml:"http_port"`
	MetricsPort        int           `yaml:"metrics_port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	RateLimitRPS       float64       `yaml:"rate_limit_rps"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
}

// DSN returns the database connection string. Returns "" when no database
// is configured (dev mode).
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Loader is a builder for loading Config.
type Loader struct {
	configPath string
	validators []func(*Config) error
}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{validators: make([]func(*Config) error, 0)}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithValidator adds a config validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the config: defaults -> YAML file -> environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv applies the named environment variables from spec.md §6.
// Unlike the teacher's generic reflection-based <PREFIX>_<FIELD> walk, the
// gateway has a small, fixed set of env vars with irregular names
// (DATABASE_URL but LITELLM_URL; API_KEY_SALT sets LiteLLM.APIKeySalt, the
// salt the authenticator hashes with, while HASH_SALT sets the separate
// LiteLLM.HashSalt, which nothing else reads), so each is bound explicitly.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v, err := envInt("DB_PORT"); err != nil {
		return err
	} else if v != nil {
		cfg.Database.Port = *v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v, err := envInt("DB_MIN_CONNECTIONS"); err != nil {
		return err
	} else if v != nil {
		cfg.Database.MinConnections = *v
	}
	if v, err := envInt("DB_MAX_CONNECTIONS"); err != nil {
		return err
	} else if v != nil {
		cfg.Database.MaxConnections = *v
	}

	if v := os.Getenv("LITELLM_URL"); v != "" {
		cfg.LiteLLM.URL = v
	}
	if v := os.Getenv("LITELLM_API_KEY"); v != "" {
		cfg.LiteLLM.APIKey = v
	}
	if v := os.Getenv("LITELLM_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("LITELLM_TIMEOUT: %w", err)
		}
		cfg.LiteLLM.Timeout = d
	}

	if v := os.Getenv("API_KEY_SALT"); v != "" {
		cfg.LiteLLM.APIKeySalt = v
	}
	if v := os.Getenv("HASH_SALT"); v != "" {
		cfg.LiteLLM.HashSalt = v
	}

	if v := os.Getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	if v := os.Getenv("CFX_VERSION"); v != "" {
		cfg.Version = v
	}

	return nil
}

// parseDuration accepts both Go duration syntax ("30s") and a bare number
// of seconds ("30"), matching env vars that name a unit-less timeout.
func parseDuration(value string) (time.Duration, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return time.Duration(secs) * time.Second, nil
}

func envInt(name string) (*int, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid integer %q", name, v)
	}
	return &i, nil
}

// MustLoad loads config from path, panicking on failure. Used at process
// startup where there is no sensible recovery from a bad config.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads config from defaults + environment variables only,
// honoring CFX_CONFIG_PATH if set.
func LoadFromEnv() (*Config, error) {
	return NewLoader().WithConfigPath(os.Getenv("CFX_CONFIG_PATH")).Load()
}

// Validate checks structural invariants the loader cannot enforce via
// types alone.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if len(c.Stages) == 0 {
		errs = append(errs, "at least one stage must be configured")
	}
	for name, stage := range c.Stages {
		if stage.Model == "" {
			errs = append(errs, fmt.Sprintf("stages.%s.model is required", name))
		}
		if stage.Temperature < 0 || stage.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("stages.%s.temperature must be between 0 and 2", name))
		}
	}
	if c.RateLimit.DailyRequests <= 0 {
		errs = append(errs, "rate_limit.daily_requests must be positive")
	}
	if c.RateLimit.ConcurrentStreams <= 0 {
		errs = append(errs, "rate_limit.concurrent_streams must be positive")
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		errs = append(errs, "circuit_breaker.failure_threshold must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
