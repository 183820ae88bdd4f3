// Package config loads engine configuration from defaults, an optional
// config.yaml, and MAX_-prefixed environment variables, in that order of
// precedence. The USE_LLM and MAX_REGISTRY toggles keep their historical
// unprefixed names.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Market    MarketConfig    `mapstructure:"market"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

// StorageConfig selects the collection-store backend. Driver is one of
// memory, redis, sqlite, postgres.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type PostgresConfig struct {
	DatabaseURL     string        `mapstructure:"database_url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MarketConfig selects the market data source. Mode sim derives a
// deterministic pseudo-market from sector state; mode live pulls quotes
// from Binance and degrades to sim on failure.
type MarketConfig struct {
	Mode         string        `mapstructure:"mode"`
	SymbolSuffix string        `mapstructure:"symbol_suffix"`
	CandleLimit  int           `mapstructure:"candle_limit"`
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
}

// ScoringWeights is the manager rubric weight vector. Weights should sum
// to 1; Validate warns but does not reject small drift.
type ScoringWeights struct {
	WorkerConfidence float64 `mapstructure:"worker_confidence"`
	ExpectedImpact   float64 `mapstructure:"expected_impact"`
	RiskLevel        float64 `mapstructure:"risk_level"`
	Alignment        float64 `mapstructure:"alignment"`
}

type EngineConfig struct {
	MaxSectors          int            `mapstructure:"max_sectors"`
	MaxAgentsPerSector  int            `mapstructure:"max_agents_per_sector"`
	MaxTotalAgents      int            `mapstructure:"max_total_agents"`
	ConfidenceGate      float64        `mapstructure:"confidence_gate"`
	ApprovalThreshold   float64        `mapstructure:"approval_threshold"`
	MaxRounds           int            `mapstructure:"max_rounds"`
	MaxRevisions        int            `mapstructure:"max_revisions"`
	RevisionsEnabled    bool           `mapstructure:"revisions_enabled"`
	TickPeriod          time.Duration  `mapstructure:"tick_period"`
	DrainBatch          int            `mapstructure:"drain_batch"`
	WatchdogPeriod      time.Duration  `mapstructure:"watchdog_period"`
	StallTimeout        time.Duration  `mapstructure:"stall_timeout"`
	ItemPendingTimeout  time.Duration  `mapstructure:"item_pending_timeout"`
	ItemReviseTimeout   time.Duration  `mapstructure:"item_revise_timeout"`
	DiscussionCooldown  time.Duration  `mapstructure:"discussion_cooldown"`
	ExecutionLogsRing   int            `mapstructure:"execution_logs_ring"`
	DepositAdjustsPrice bool           `mapstructure:"deposit_adjusts_price"`
	PriceFloor          float64        `mapstructure:"price_floor"`
	ManagerMemoryLimit  int            `mapstructure:"manager_memory_limit"`
	ScoringWeights      ScoringWeights `mapstructure:"scoring_weights"`
	RulesFile           string         `mapstructure:"rules_file"`
	SeedFile            string         `mapstructure:"seed_file"`
}

type OracleConfig struct {
	UseLLM        bool          `mapstructure:"use_llm"`
	Endpoint      string        `mapstructure:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type AuthConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	JWTSecret         string `mapstructure:"jwt_secret"`
	OperatorTokenHash string `mapstructure:"operator_token_hash"`
	EncryptionKey     string `mapstructure:"encryption_key"`
}

type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type RegistryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	QueueName string        `mapstructure:"queue_name"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig drives the maintenance cron. Schedules use the
// six-field format with a leading seconds field.
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CompactionSchedule string        `mapstructure:"compaction_schedule"`
	CooldownSchedule   string        `mapstructure:"cooldown_schedule"`
	RollupSchedule     string        `mapstructure:"rollup_schedule"`
	LogRetention       time.Duration `mapstructure:"log_retention"`
}

// Load reads configuration. A missing config file is not an error; env
// and defaults are enough to boot in simulation mode.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvPrefix("MAX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyLegacyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv honors the unprefixed toggles predating the MAX_ scheme.
func applyLegacyEnv(cfg *Config) {
	if raw, ok := os.LookupEnv("USE_LLM"); ok {
		cfg.Oracle.UseLLM = parseBool(raw)
	}
	if raw, ok := os.LookupEnv("MAX_REGISTRY"); ok && raw != "" {
		if parseBool(raw) {
			cfg.Registry.Enabled = true
		} else {
			cfg.Registry.Enabled = true
			cfg.Registry.Endpoint = raw
		}
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.rate_limit_per_minute", 120)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite_path", "./data/engine.db")
	v.SetDefault("storage.key_prefix", "max")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.database_url", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.conn_max_lifetime", "30m")

	v.SetDefault("market.mode", "sim")
	v.SetDefault("market.symbol_suffix", "USDT")
	v.SetDefault("market.candle_limit", 30)
	v.SetDefault("market.quote_timeout", "5s")

	v.SetDefault("engine.max_sectors", 6)
	v.SetDefault("engine.max_agents_per_sector", 12)
	v.SetDefault("engine.max_total_agents", 100)
	v.SetDefault("engine.confidence_gate", 65)
	v.SetDefault("engine.approval_threshold", 65)
	v.SetDefault("engine.max_rounds", 2)
	v.SetDefault("engine.max_revisions", 2)
	v.SetDefault("engine.revisions_enabled", true)
	v.SetDefault("engine.tick_period", "1500ms")
	v.SetDefault("engine.drain_batch", 3)
	v.SetDefault("engine.watchdog_period", "10s")
	v.SetDefault("engine.stall_timeout", "30s")
	v.SetDefault("engine.item_pending_timeout", "5m")
	v.SetDefault("engine.item_revise_timeout", "10m")
	v.SetDefault("engine.discussion_cooldown", "60s")
	v.SetDefault("engine.execution_logs_ring", 10000)
	v.SetDefault("engine.deposit_adjusts_price", true)
	v.SetDefault("engine.price_floor", 0.0001)
	v.SetDefault("engine.manager_memory_limit", 50)
	v.SetDefault("engine.scoring_weights.worker_confidence", 0.30)
	v.SetDefault("engine.scoring_weights.expected_impact", 0.25)
	v.SetDefault("engine.scoring_weights.risk_level", 0.25)
	v.SetDefault("engine.scoring_weights.alignment", 0.20)
	v.SetDefault("engine.rules_file", "")
	v.SetDefault("engine.seed_file", "")

	v.SetDefault("oracle.use_llm", false)
	v.SetDefault("oracle.endpoint", "")
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.rate_per_second", 5)
	v.SetDefault("oracle.burst", 10)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.operator_token_hash", "")
	v.SetDefault("auth.encryption_key", "")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.traces_sample_rate", 0.1)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.endpoint", "")
	v.SetDefault("registry.api_key", "")
	v.SetDefault("registry.queue_name", "registry_mirror")
	v.SetDefault("registry.timeout", "10s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.compaction_schedule", "0 */5 * * * *")
	v.SetDefault("scheduler.cooldown_schedule", "*/30 * * * * *")
	v.SetDefault("scheduler.rollup_schedule", "0 0 0 * * *")
	v.SetDefault("scheduler.log_retention", "168h")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "memory", "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Market.Mode {
	case "sim", "live":
	default:
		return fmt.Errorf("unknown market mode %q", c.Market.Mode)
	}
	e := c.Engine
	if e.ConfidenceGate < 0 || e.ConfidenceGate > 100 {
		return fmt.Errorf("confidence_gate %v outside [0,100]", e.ConfidenceGate)
	}
	if e.ApprovalThreshold < 0 || e.ApprovalThreshold > 100 {
		return fmt.Errorf("approval_threshold %v outside [0,100]", e.ApprovalThreshold)
	}
	if e.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1")
	}
	if e.MaxRevisions < 0 {
		return fmt.Errorf("max_revisions must not be negative")
	}
	if e.TickPeriod <= 0 || e.WatchdogPeriod <= 0 {
		return fmt.Errorf("tick_period and watchdog_period must be positive")
	}
	if e.ExecutionLogsRing < 1 {
		return fmt.Errorf("execution_logs_ring must be at least 1")
	}
	if e.DrainBatch < 1 {
		return fmt.Errorf("drain_batch must be at least 1")
	}
	if e.PriceFloor <= 0 {
		return fmt.Errorf("price_floor must be positive")
	}
	if c.Storage.Driver == "postgres" && c.Postgres.DatabaseURL == "" {
		return fmt.Errorf("postgres driver requires postgres.database_url")
	}
	if c.Oracle.UseLLM && c.Oracle.Endpoint == "" {
		return fmt.Errorf("oracle.use_llm requires oracle.endpoint")
	}
	return nil
}
