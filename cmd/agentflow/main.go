// =============================================================================
// cfxrouter gateway 主入口
// =============================================================================
// 完整服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	cfxgateway serve                       # 启动服务
//	cfxgateway serve --config config.yaml  # 指定配置文件
//	cfxgateway version                     # 显示版本信息
//	cfxgateway health                      # 健康检查
// =============================================================================

// @title cfxrouter gateway API
// @version 1.0.0
// @description cfxrouter gateway is an authenticating, quota-enforcing reverse
// @description proxy in front of an OpenAI-compatible LLM backend.
// @description
// @description ## Features
// @description - Stage-based and direct model routing
// @description - Per-user daily quota and concurrent-stream limits
// @description - Per-model circuit breaking
// @description - Streaming responses via SSE
// @description - Health monitoring, metrics, and admin introspection

// @contact.name cfxrouter gateway
// @contact.url https://github.com/cfxrouter/gateway

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token, e.g. "Bearer cfx_abcdefghijklmnopqrst"

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cfxrouter/gateway/auth"
	"github.com/cfxrouter/gateway/config"
	"github.com/cfxrouter/gateway/internal/database"
	"github.com/cfxrouter/gateway/logpipeline"
	"github.com/cfxrouter/gateway/quota"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	zlogger := initLogger(cfg.Log)
	defer zlogger.Sync()

	zlogger.Info("starting cfxrouter gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	dbPool, err := openDatabase(cfg.Database, zlogger)
	if err != nil {
		zlogger.Warn("database not available, running in development mode", zap.Error(err))
		dbPool = nil
	} else if dbPool != nil {
		if migrateErr := dbPool.DB().AutoMigrate(&auth.APIKey{}, &quota.UsageCounter{}, &logpipeline.RequestLogRow{}); migrateErr != nil {
			zlogger.Error("database auto-migrate failed", zap.Error(migrateErr))
		}
	}

	srv := NewServer(cfg, zlogger, dbPool)

	if err := srv.Start(); err != nil {
		zlogger.Fatal("failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()

	zlogger.Info("cfxrouter gateway stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("cfxrouter gateway %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`cfxrouter gateway - LLM routing gateway

Usage:
  cfxgateway <command> [options]

Commands:
  serve     Start the gateway server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  cfxgateway serve
  cfxgateway serve --config /etc/cfxgateway/config.yaml
  cfxgateway health --addr http://localhost:8080
  cfxgateway version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	zlogger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		zlogger, _ = zap.NewProduction()
	}

	return zlogger
}

// openDatabase opens the Postgres connection described by dbCfg and wraps
// it in a database.PoolManager. An empty DSN (no url/host configured)
// means dev mode: (nil, nil) is returned and the caller falls back to
// in-memory components.
func openDatabase(dbCfg config.DatabaseConfig, zlogger *zap.Logger) (*database.PoolManager, error) {
	dsn := dbCfg.DSN()
	if dsn == "" {
		return nil, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxOpenConns = dbCfg.MaxConnections
	poolCfg.MaxIdleConns = dbCfg.MinConnections

	pool, err := database.NewPoolManager(db, poolCfg, zlogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize connection pool: %w", err)
	}

	zlogger.Info("database connected")
	return pool, nil
}
