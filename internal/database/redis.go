// Package database holds connection plumbing for the storage and
// messaging backends: Redis client construction with retry, and the
// Postgres pool. The collection store itself lives in internal/storage.
package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
)

const (
	redisConnectAttempts = 5
	redisConnectBackoff  = 500 * time.Millisecond
)

// RedisClient wraps the shared go-redis client. One instance backs the
// collection store, pub/sub, the job queue, and rate limiting.
type RedisClient struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisClient connects with bounded retries and verifies the
// connection with a ping before returning.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	rdb.AddHook(&redisSentryHook{})

	var lastErr error
	for attempt := 1; attempt <= redisConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = rdb.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logger.Info("redis connected", zap.String("addr", cfg.Addr()), zap.Int("attempt", attempt))
			return &RedisClient{Client: rdb, logger: logger}, nil
		}

		logger.Warn("redis connection failed",
			zap.String("addr", cfg.Addr()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(time.Duration(attempt) * redisConnectBackoff):
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		}
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("connect redis at %s: %w", cfg.Addr(), lastErr)
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// redisSentryHook reports failed commands to Sentry. Cache misses
// (redis.Nil) are not errors.
type redisSentryHook struct{}

var _ redis.Hook = (*redisSentryHook)(nil)

func (h *redisSentryHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			sentry.CaptureException(fmt.Errorf("redis dial %s: %w", addr, err))
		}
		return conn, err
	}
}

func (h *redisSentryHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			sentry.CaptureException(fmt.Errorf("redis %s: %w", cmd.Name(), err))
		}
		return err
	}
}

func (h *redisSentryHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			sentry.CaptureException(fmt.Errorf("redis pipeline: %w", err))
		}
		return err
	}
}
