package database

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
)

func TestNewRedisClientConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewRedisClient(context.Background(), config.RedisConfig{
		Host: mr.Host(),
		Port: port,
	}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestNewRedisClientUnreachable(t *testing.T) {
	// Reserved TEST-NET address; connect attempts fail fast enough once
	// the context is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := NewRedisClient(ctx, config.RedisConfig{Host: "192.0.2.1", Port: 6379}, zap.NewNop())
	require.Error(t, err)
}
