// Package main provides the entry point for the SentryHub server.
// SentryHub ingests signed field-device telemetry, scores it, correlates
// incidents per device and queues notification alerts.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tdnguyen/sentryhub/internal/api"
	"github.com/tdnguyen/sentryhub/internal/api/gateway"
	"github.com/tdnguyen/sentryhub/internal/config"
	"github.com/tdnguyen/sentryhub/internal/observability"
	"github.com/tdnguyen/sentryhub/internal/pipeline"
	"github.com/tdnguyen/sentryhub/internal/store"
	"github.com/tdnguyen/sentryhub/internal/store/memory"
	"github.com/tdnguyen/sentryhub/internal/store/redisstore"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SentryHub %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting sentryhub",
		zap.String("version", Version),
		zap.String("config", *configPath),
		zap.String("backend", cfg.Storage.Backend))

	secret, err := cfg.DeviceSecret()
	if err != nil {
		logger.Fatal("device secret unavailable", zap.Error(err))
	}

	var (
		st          store.Store
		redisClient *redis.Client
	)
	switch cfg.Storage.Backend {
	case "memory":
		st = memory.New()
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.RedisPassword(),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		st = redisstore.New(redisClient)
	default:
		logger.Fatal("unknown storage backend", zap.String("backend", cfg.Storage.Backend))
	}

	p := pipeline.New(st, secret, logger)
	handlers := api.NewHandlers(p, st, logger)

	// The limiter shares its window in Redis; with the memory backend
	// there is no Redis client, so limiting is disabled.
	var limiter *gateway.RateLimiter
	if cfg.RateLimit.Enabled && redisClient != nil {
		limiter = gateway.NewRateLimiter(redisClient, gateway.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		}, logger)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handlers, limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("server stopped")
}
