package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// RateLimitHeader reports the window limit.
	RateLimitHeader = "X-RateLimit-Limit"
	// RateLimitRemainingHeader reports requests left in the window.
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	// RateLimitResetHeader reports the window reset as a unix timestamp.
	RateLimitResetHeader = "X-RateLimit-Reset"
	// RateLimitPolicyHeader marks rejected responses.
	RateLimitPolicyHeader = "X-RateLimit-Policy"
)

// RateLimitConfig controls request throttling for the API.
type RateLimitConfig struct {
	// Requests allowed per window.
	Requests int
	// Window duration.
	Window time.Duration
	// KeyFunc extracts the throttling key from the request.
	KeyFunc func(*gin.Context) string
	// SkipFunc bypasses throttling for matching requests.
	SkipFunc func(*gin.Context) bool
}

// DefaultRateLimitConfig throttles per client IP and leaves health
// probes and the websocket upgrade alone.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 120,
		Window:   time.Minute,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
		SkipFunc: func(c *gin.Context) bool {
			path := c.Request.URL.Path
			return strings.HasPrefix(path, "/health") || path == "/ws"
		},
	}
}

// RateLimiter counts requests per key in a fixed window, in Redis when
// a client is supplied so every replica shares one budget, otherwise in
// process memory.
type RateLimiter struct {
	config RateLimitConfig
	redis  *redis.Client
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count int
	reset time.Time
}

// NewRateLimiter builds a limiter. redisClient may be nil.
func NewRateLimiter(config RateLimitConfig, redisClient *redis.Client, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		config:  config,
		redis:   redisClient,
		logger:  logger,
		windows: make(map[string]*window),
	}
}

// Middleware returns the gin handler. A failed limit check fails open
// so a Redis outage never takes the API down with it.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc != nil && rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := rl.config.KeyFunc(c)

		allowed, remaining, reset, err := rl.allow(c.Request.Context(), key)
		if err != nil {
			rl.logger.Error("rate limit check failed",
				zap.Error(err),
				zap.String("key", key),
			)
			c.Next()
			return
		}

		c.Header(RateLimitHeader, strconv.Itoa(rl.config.Requests))
		c.Header(RateLimitRemainingHeader, strconv.Itoa(remaining))
		c.Header(RateLimitResetHeader, strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			c.Header(RateLimitPolicyHeader, "rate_limit_exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error",
				"error": gin.H{
					"kind":       "rate_limited",
					"message":    "rate limit exceeded",
					"retryAfter": reset.Unix() - time.Now().Unix(),
				},
			})
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	if rl.redis != nil {
		return rl.allowRedis(ctx, key)
	}
	return rl.allowLocal(key)
}

// allowRedis runs the check-and-increment atomically so concurrent
// replicas cannot both spend the last slot.
func (rl *RateLimiter) allowRedis(ctx context.Context, key string) (bool, int, time.Time, error) {
	redisKey := "ratelimit:" + key
	windowSeconds := int(rl.config.Window.Seconds())

	script := `
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local current = redis.call("GET", key)
		if current == false then
			current = 0
		else
			current = tonumber(current)
		end

		if current >= limit then
			local ttl = redis.call("TTL", key)
			return {0, limit - current, ttl}
		end

		current = redis.call("INCR", key)
		if current == 1 then
			redis.call("EXPIRE", key, window)
		end

		local ttl = redis.call("TTL", key)
		return {1, limit - current, ttl}
	`

	result, err := rl.redis.Eval(ctx, script, []string{redisKey}, rl.config.Requests, windowSeconds).Result()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected redis response format")
	}

	allowedVal, ok := values[0].(int64)
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("unexpected type for allowed value")
	}
	remainingVal, ok := values[1].(int64)
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("unexpected type for remaining value")
	}
	ttlVal, ok := values[2].(int64)
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("unexpected type for ttl value")
	}

	reset := time.Now().Add(time.Duration(ttlVal) * time.Second)
	return allowedVal == 1, int(remainingVal), reset, nil
}

func (rl *RateLimiter) allowLocal(key string) (bool, int, time.Time, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Opportunistic sweep of expired windows once the map grows.
	if len(rl.windows) > 100 {
		for k, w := range rl.windows {
			if now.After(w.reset) {
				delete(rl.windows, k)
			}
		}
	}

	w, exists := rl.windows[key]
	if !exists || now.After(w.reset) {
		rl.windows[key] = &window{count: 1, reset: now.Add(rl.config.Window)}
		return true, rl.config.Requests - 1, now.Add(rl.config.Window), nil
	}

	if w.count >= rl.config.Requests {
		return false, 0, w.reset, nil
	}

	w.count++
	return true, rl.config.Requests - w.count, w.reset, nil
}
