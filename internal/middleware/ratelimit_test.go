package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type errorEnvelope struct {
	Status string `json:"status"`
	Error  struct {
		Kind       string `json:"kind"`
		Message    string `json:"message"`
		RetryAfter int64  `json:"retryAfter"`
	} `json:"error"`
}

func decodeErrorEnvelope(t *testing.T, body []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestDefaultRateLimitConfig(t *testing.T) {
	config := DefaultRateLimitConfig()

	assert.Equal(t, 120, config.Requests)
	assert.Equal(t, time.Minute, config.Window)
	require.NotNil(t, config.KeyFunc)
	require.NotNil(t, config.SkipFunc)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()

	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/sectors", nil)
	assert.NotEmpty(t, config.KeyFunc(c))
	assert.False(t, config.SkipFunc(c))

	for _, path := range []string{"/health", "/health/system", "/ws"} {
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, path, nil)
		assert.True(t, config.SkipFunc(c), path)
	}
}

func TestRateLimiterRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	config := RateLimitConfig{
		Requests: 2,
		Window:   time.Minute,
		KeyFunc:  func(c *gin.Context) string { return "shared-client" },
	}
	rl := NewRateLimiter(config, client, zap.NewNop())

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get(RateLimitHeader))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_exceeded", w.Header().Get(RateLimitPolicyHeader))

	env := decodeErrorEnvelope(t, w.Body.Bytes())
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "rate_limited", env.Error.Kind)
	assert.GreaterOrEqual(t, env.Error.RetryAfter, int64(0))
}

func TestRateLimiterFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	s.Close()

	config := RateLimitConfig{
		Requests: 1,
		Window:   time.Minute,
		KeyFunc:  func(c *gin.Context) string { return "whoever" },
	}
	rl := NewRateLimiter(config, client, zap.NewNop())

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	// Redis down, limit of one, yet both requests land.
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiterSkipFunc(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := RateLimitConfig{
		Requests: 1,
		Window:   time.Minute,
		KeyFunc:  func(c *gin.Context) string { return "skip-client" },
		SkipFunc: func(c *gin.Context) bool { return c.Request.URL.Path == "/skip" },
	}
	rl := NewRateLimiter(config, nil, zap.NewNop())

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/skip", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/skip", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAllowLocal(t *testing.T) {
	config := RateLimitConfig{Requests: 3, Window: time.Minute}
	rl := NewRateLimiter(config, nil, zap.NewNop())
	key := "local-key"

	for want := 2; want >= 0; want-- {
		allowed, remaining, reset, err := rl.allowLocal(key)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, remaining)
		assert.False(t, reset.IsZero())
	}

	allowed, remaining, _, err := rl.allowLocal(key)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestAllowLocalWindowRollover(t *testing.T) {
	config := RateLimitConfig{Requests: 1, Window: 40 * time.Millisecond}
	rl := NewRateLimiter(config, nil, zap.NewNop())

	allowed, _, _, err := rl.allowLocal("rollover")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, _, err = rl.allowLocal("rollover")
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(60 * time.Millisecond)

	allowed, _, _, err = rl.allowLocal("rollover")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitHeadersLocalMode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(DefaultRateLimitConfig(), nil, zap.NewNop())

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "120", w.Header().Get(RateLimitHeader))
	assert.Equal(t, "119", w.Header().Get(RateLimitRemainingHeader))
	assert.NotEmpty(t, w.Header().Get(RateLimitResetHeader))
}
