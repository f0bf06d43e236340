// Package main wires the gateway's component singletons into an HTTP
// server and runs it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/api/handlers"
	"github.com/cfxrouter/gateway/auth"
	"github.com/cfxrouter/gateway/circuitbreaker"
	"github.com/cfxrouter/gateway/concurrency"
	"github.com/cfxrouter/gateway/config"
	"github.com/cfxrouter/gateway/internal/database"
	"github.com/cfxrouter/gateway/internal/metrics"
	"github.com/cfxrouter/gateway/internal/server"
	"github.com/cfxrouter/gateway/logpipeline"
	"github.com/cfxrouter/gateway/orchestrator"
	"github.com/cfxrouter/gateway/quota"
	"github.com/cfxrouter/gateway/stagerouter"
	"github.com/cfxrouter/gateway/types"
	"github.com/cfxrouter/gateway/upstream"
)

// Server is the gateway's process: one HTTP listener for the API, one for
// /metrics, built from the process-lifetime singletons config.Config
// describes.
type Server struct {
	cfg    *config.Config
	dbPool *database.PoolManager
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	orchestrator *orchestrator.Orchestrator
	logs         *logpipeline.Pipeline

	chatHandler   *handlers.ChatHandler
	healthHandler *handlers.HealthHandler
	adminHandler  *handlers.AdminHandler

	metricsCollector *metrics.Collector
	dbPollerCancel   context.CancelFunc

	wg sync.WaitGroup
}

// NewServer builds a Server. dbPool may be nil (dev mode): the authenticator
// then has no key store and accepts any well-formed token as the dev user,
// the quota counter is in-memory, and log entries go to a no-op writer.
func NewServer(cfg *config.Config, logger *zap.Logger, dbPool *database.PoolManager) *Server {
	return &Server{cfg: cfg, logger: logger, dbPool: dbPool}
}

// Start wires every component and starts both listeners. Non-blocking:
// call WaitForShutdown to block until a shutdown signal arrives.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("cfxgateway", s.logger)

	s.buildComponents()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// buildComponents constructs the authenticate -> quota -> route -> breaker
// -> concurrency -> upstream -> log pipeline chain and the handlers that
// front it.
func (s *Server) buildComponents() {
	var keyStore auth.KeyStore
	var quotaCounter quota.Counter
	var logWriter logpipeline.Writer

	if s.dbPool != nil {
		db := s.dbPool.DB()
		keyStore = auth.NewGormKeyStore(db)
		quotaCounter = quota.NewDurableCounter(db, s.logger)
		logWriter = logpipeline.NewGormWriter(db)
	} else {
		s.logger.Warn("no database configured; running in development mode: no key store (any well-formed token authenticates as the dev user), in-memory quota, log entries discarded")
		quotaCounter = quota.NewMemoryCounter()
		logWriter = noopLogWriter{}
	}

	authenticator := auth.New(keyStore, s.cfg.LiteLLM.APIKeySalt, s.logger)

	s.logs = logpipeline.New(logpipeline.Config{
		QueueCapacity: 10000,
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
	}, logWriter, s.logger)
	s.logs.Start(context.Background())

	router := stagerouter.New(stagerouter.Config{
		Stages: stageBindingsFromConfig(s.cfg.Stages),
		Direct: directBindingFromConfig(s.cfg.Direct),
	})

	s.orchestrator = orchestrator.New(
		authenticator,
		quotaCounter,
		s.cfg.RateLimit.DailyRequests,
		router,
		concurrency.New(s.cfg.RateLimit.ConcurrentStreams, s.logger),
		circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold:  s.cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:   s.cfg.CircuitBreaker.RecoveryTimeout,
			HalfOpenMaxProbes: 1,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				s.metricsCollector.RecordBreakerStateTransition(name, from.String(), to.String())
			},
		}, s.logger),
		upstream.New(upstream.Config{
			BaseURL: s.cfg.LiteLLM.URL,
			APIKey:  s.cfg.LiteLLM.APIKey,
			Pool:    upstream.PoolConfig{ResponseTimeout: s.cfg.LiteLLM.Timeout},
		}, s.logger),
		s.logs,
		logpipeline.NewCostTable(nil),
		logpipeline.NewRequestIDGenerator(),
		s.logger,
	)

	s.chatHandler = handlers.NewChatHandler(s.orchestrator, s.logger).WithMetrics(s.metricsCollector)
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.adminHandler = handlers.NewAdminHandler(authenticator, s.orchestrator.Concurrency, s.orchestrator.Breakers, quotaCounter, s.cfg.RateLimit.DailyRequests, s.logger)

	s.registerHealthChecks()

	if s.dbPool != nil {
		s.startDBStatsPoller()
	}
}

// startDBStatsPoller periodically samples database.PoolManager's
// connection stats and exports them via db_connections_open/
// db_connections_idle, until Shutdown cancels the context.
func (s *Server) startDBStatsPoller() {
	ctx, cancel := context.WithCancel(context.Background())
	s.dbPollerCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := s.dbPool.GetStats()
				s.metricsCollector.RecordDBConnections("primary", stats.OpenConnections, stats.Idle)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// registerHealthChecks wires the checks spec.md §6 names: configuration
// loaded (always true once the process is running, so critical), the
// upstream client configured (critical), and the database reachable
// (optional — absence just means dev mode).
func (s *Server) registerHealthChecks() {
	s.healthHandler.RegisterCheck(handlers.Check{
		Name:     "config",
		Critical: true,
		Probe:    func(ctx context.Context) error { return nil },
	})
	s.healthHandler.RegisterCheck(handlers.Check{
		Name:     "upstream_client",
		Critical: true,
		Probe: func(ctx context.Context) error {
			if s.orchestrator == nil || s.orchestrator.Upstream == nil {
				return fmt.Errorf("upstream client not configured")
			}
			return nil
		},
	})
	if s.dbPool != nil {
		s.healthHandler.RegisterCheck(handlers.Check{
			Name:     "database",
			Critical: false,
			Probe:    s.dbPool.Ping,
		})
	}
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleLiveness)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReadiness)

	mux.HandleFunc("POST /v1/chat/completions", s.chatHandler.HandleCompletion)

	mux.HandleFunc("GET /v1/admin/concurrency", s.adminHandler.HandleConcurrencyStats)
	mux.HandleFunc("GET /v1/admin/breakers", s.adminHandler.HandleBreakerStats)
	mux.HandleFunc("POST /v1/admin/breakers/reset", s.adminHandler.HandleBreakerReset)
	mux.HandleFunc("GET /v1/admin/quota/{user_id}", s.adminHandler.HandleQuotaStatus)
	mux.HandleFunc("POST /v1/admin/quota/{user_id}/reset", s.adminHandler.HandleQuotaReset)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a shutdown signal arrives, then drains.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown drains in-flight requests and flushes the log pipeline.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.logs != nil {
		s.logs.Stop()
	}
	if s.dbPollerCancel != nil {
		s.dbPollerCancel()
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("database pool close error", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("graceful shutdown completed")
}

// noopLogWriter discards log entries in development mode, when no database
// is configured to persist request_logs.
type noopLogWriter struct{}

func (noopLogWriter) WriteBatch(_ context.Context, _ []types.LogEntry) error {
	return nil
}

// stageBindingsFromConfig converts the YAML stage map into the router's
// typed binding map.
func stageBindingsFromConfig(stages map[string]config.StageConfig) map[types.Stage]types.StageBinding {
	bindings := make(map[types.Stage]types.StageBinding, len(stages))
	for name, stage := range stages {
		bindings[types.Stage(name)] = types.StageBinding{
			Model:          stage.Model,
			MaxTokens:      stage.MaxTokens,
			Temperature:    float32(stage.Temperature),
			FallbackModels: stage.Fallback,
		}
	}
	return bindings
}

// directBindingFromConfig converts the YAML direct section into the
// router's typed binding.
func directBindingFromConfig(direct config.DirectConfig) types.DirectBinding {
	return types.DirectBinding{
		AllowedModels: direct.AllowedModels,
		MaxTokensCap:  direct.MaxTokensCap,
	}
}
