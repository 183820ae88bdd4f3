package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "sim", cfg.Market.Mode)

	assert.Equal(t, 6, cfg.Engine.MaxSectors)
	assert.Equal(t, 12, cfg.Engine.MaxAgentsPerSector)
	assert.Equal(t, 100, cfg.Engine.MaxTotalAgents)
	assert.Equal(t, float64(65), cfg.Engine.ConfidenceGate)
	assert.Equal(t, float64(65), cfg.Engine.ApprovalThreshold)
	assert.Equal(t, 2, cfg.Engine.MaxRounds)
	assert.Equal(t, 2, cfg.Engine.MaxRevisions)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.TickPeriod)
	assert.Equal(t, 10*time.Second, cfg.Engine.WatchdogPeriod)
	assert.Equal(t, 30*time.Second, cfg.Engine.StallTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.ItemPendingTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ItemReviseTimeout)
	assert.Equal(t, 10000, cfg.Engine.ExecutionLogsRing)
	assert.True(t, cfg.Engine.DepositAdjustsPrice)
	assert.True(t, cfg.Engine.RevisionsEnabled)

	weights := cfg.Engine.ScoringWeights
	assert.InDelta(t, 1.0, weights.WorkerConfidence+weights.ExpectedImpact+weights.RiskLevel+weights.Alignment, 1e-9)

	assert.False(t, cfg.Oracle.UseLLM)
	assert.False(t, cfg.Registry.Enabled)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "0 */5 * * * *", cfg.Scheduler.CompactionSchedule)
	assert.Equal(t, "*/30 * * * * *", cfg.Scheduler.CooldownSchedule)
	assert.Equal(t, "0 0 0 * * *", cfg.Scheduler.RollupSchedule)
	assert.Equal(t, 168*time.Hour, cfg.Scheduler.LogRetention)
}

func TestLoadLegacyEnvToggles(t *testing.T) {
	t.Run("use_llm requires endpoint", func(t *testing.T) {
		t.Setenv("USE_LLM", "true")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("use_llm with endpoint", func(t *testing.T) {
		t.Setenv("USE_LLM", "1")
		t.Setenv("MAX_ORACLE_ENDPOINT", "http://localhost:9090")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Oracle.UseLLM)
		assert.Equal(t, "http://localhost:9090", cfg.Oracle.Endpoint)
	})

	t.Run("registry url enables mirroring", func(t *testing.T) {
		t.Setenv("MAX_REGISTRY", "https://registry.example.com/decisions")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Registry.Enabled)
		assert.Equal(t, "https://registry.example.com/decisions", cfg.Registry.Endpoint)
	})

	t.Run("registry boolean keeps configured endpoint", func(t *testing.T) {
		t.Setenv("MAX_REGISTRY", "true")
		t.Setenv("MAX_REGISTRY_ENDPOINT", "https://registry.example.com")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Registry.Enabled)
		assert.Equal(t, "https://registry.example.com", cfg.Registry.Endpoint)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default ok", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "dynamo" }, "storage driver"},
		{"bad market mode", func(c *Config) { c.Market.Mode = "replay" }, "market mode"},
		{"gate out of range", func(c *Config) { c.Engine.ConfidenceGate = 120 }, "confidence_gate"},
		{"threshold out of range", func(c *Config) { c.Engine.ApprovalThreshold = -1 }, "approval_threshold"},
		{"zero rounds", func(c *Config) { c.Engine.MaxRounds = 0 }, "max_rounds"},
		{"negative revisions", func(c *Config) { c.Engine.MaxRevisions = -1 }, "max_revisions"},
		{"zero tick", func(c *Config) { c.Engine.TickPeriod = 0 }, "tick_period"},
		{"zero ring", func(c *Config) { c.Engine.ExecutionLogsRing = 0 }, "execution_logs_ring"},
		{"zero floor", func(c *Config) { c.Engine.PriceFloor = 0 }, "price_floor"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = "postgres" }, "database_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "localhost", Port: 6379}
	assert.Equal(t, "localhost:6379", r.Addr())
}
