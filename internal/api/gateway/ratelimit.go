// Package gateway provides API gateway functionality including rate limiting
package gateway

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tdnguyen/sentryhub/internal/observability"
)

// RateLimiter applies a fixed-window per-client limit to the ingest
// endpoint, backed by Redis so the window is shared across instances.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	config RateLimitConfig
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// NewRateLimiter creates a rate limiter. A nil Redis client disables
// limiting regardless of config.
func NewRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 120
	}
	return &RateLimiter{
		redis:  redisClient,
		logger: logger,
		config: cfg,
	}
}

// Middleware enforces the limit per client IP. Redis errors fail open:
// a degraded limiter must not take ingestion down with it.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled || rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		client := clientIP(r)
		window := time.Now().Unix() / 60
		key := fmt.Sprintf("sentryhub:ratelimit:%s:%d", client, window)

		count, err := rl.redis.Incr(r.Context(), key).Result()
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.redis.Expire(r.Context(), key, time.Minute)
		}

		remaining := int64(rl.config.RequestsPerMinute) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.config.RequestsPerMinute) {
			observability.RateLimited.Inc()
			rl.logger.Warn("rate limit exceeded",
				zap.String("client", client),
				zap.Int64("count", count))
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
