package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/api"
	"github.com/ayushsreejith06/MAX-sub002/internal/api/handlers"
	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/crypto"
	"github.com/ayushsreejith06/MAX-sub002/internal/database"
	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/market"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/jobqueue"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/notifier"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/pubsub"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/registry"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/scheduler"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

const serviceName = "deliberation-engine"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment).WithService(serviceName)
	defer func() { _ = logger.Sync() }()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Environment,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			logger.WithError(err).Warn("sentry init failed, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is mandatory for the redis storage driver, optional plumbing
	// for pub/sub, the registry queue, and shared rate limiting
	// otherwise.
	var redisClient *redis.Client
	needRedis := cfg.Storage.Driver == "redis"
	wantRedis := needRedis || cfg.Registry.Enabled
	if wantRedis {
		rc, err := database.NewRedisClient(ctx, cfg.Redis, logger.Logger())
		if err != nil {
			if needRedis {
				return fmt.Errorf("connect redis: %w", err)
			}
			logger.WithError(err).Warn("redis unavailable, degrading to in-process queues")
		} else {
			redisClient = rc.Client
			defer func() { _ = rc.Close() }()
		}
	}

	store, err := buildStore(ctx, cfg, redisClient, logger.Logger())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	repos := storage.NewRepos(store, cfg.Engine.ExecutionLogsRing)

	// Event sinks: websocket hub always; Redis pub/sub, registry
	// mirror, and Telegram notifier when configured.
	hub := handlers.NewStreamHub(logger.Logger().Named("stream"))
	defer hub.Stop()
	sinks := engine.MultiSink{hub.Sink()}

	if redisClient != nil {
		publisher := pubsub.NewPublisher(redisClient, logger.Logger().Named("pubsub"))
		sinks = append(sinks, pubsub.NewSink(publisher, logger.Logger().Named("pubsub")))

		subscriber := pubsub.NewSubscriber(redisClient, logger.Logger().Named("pubsub"))
		defer func() { _ = subscriber.Close() }()
		if err := hub.AttachSubscriber(ctx, subscriber); err != nil {
			logger.WithError(err).Warn("event stream subscription failed")
		}
	}

	var mirror *registry.Mirror
	if cfg.Registry.Enabled {
		var queue *jobqueue.Queue
		if redisClient != nil {
			queue = jobqueue.New(redisClient, jobqueue.Config{Namespace: cfg.Registry.QueueName})
		}
		mirror = registry.New(registry.Config{
			Endpoint: cfg.Registry.Endpoint,
			APIKey:   cfg.Registry.APIKey,
			Timeout:  cfg.Registry.Timeout,
		}, queue, logger.Logger().Named("registry"))
		if err := mirror.Start(); err != nil {
			return fmt.Errorf("start registry mirror: %w", err)
		}
		defer mirror.Stop()
		sinks = append(sinks, mirror)
	}

	if cfg.Telegram.Enabled {
		telegram, err := notifier.NewTelegram(cfg.Telegram, logger.Logger().Named("notifier"))
		if err != nil {
			logger.WithError(err).Warn("telegram notifier init failed, alerts disabled")
		} else if telegram.Enabled() {
			sinks = append(sinks, telegram)
		}
	}

	// Oracle: remote behind USE_LLM, deterministic fallback otherwise.
	// The remote oracle degrades to the fallback internally on failure.
	var oracle engine.ProposalOracle = engine.NewFallbackOracle(cfg.Engine.ConfidenceGate)
	if cfg.Oracle.UseLLM {
		oracle = engine.NewRemoteOracle(cfg.Oracle.Endpoint, cfg.Engine.ConfidenceGate,
			cfg.Oracle.Timeout, cfg.Oracle.RatePerSecond, cfg.Oracle.Burst)
		logger.Info("remote proposal oracle enabled", zap.String("endpoint", cfg.Oracle.Endpoint))
	}

	var provider market.Provider
	if cfg.Market.Mode == "live" {
		provider = market.NewBinanceProvider("", "", cfg.Market.SymbolSuffix)
	}

	orch := engine.NewOrchestrator(repos, oracle, provider, sinks, logger, cfg)
	if cfg.Auth.EncryptionKey != "" {
		sealer, err := crypto.NewMemorySealer(cfg.Auth.EncryptionKey)
		if err != nil {
			return fmt.Errorf("init memory sealer: %w", err)
		}
		orch.SetMemorySealer(sealer)
		logger.Info("manager memory encryption enabled",
			zap.String("key_fingerprint", crypto.Fingerprint(cfg.Auth.EncryptionKey)))
	}

	if err := applySeed(ctx, cfg, orch, repos, logger); err != nil {
		return fmt.Errorf("apply seed data: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer orch.Stop()

	var maintenance *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		maintenance = scheduler.New(logger.Logger().Named("scheduler"))
		jobs := []struct {
			schedule string
			job      scheduler.Job
		}{
			{cfg.Scheduler.CompactionSchedule, scheduler.NewCompactionJob(repos, cfg.Scheduler.LogRetention, logger.Logger())},
			{cfg.Scheduler.CooldownSchedule, scheduler.NewCooldownSweepJob(repos, logger.Logger())},
			{cfg.Scheduler.RollupSchedule, scheduler.NewRollupJob(repos, logger.Logger())},
		}
		for _, j := range jobs {
			if err := maintenance.Register(j.schedule, j.job); err != nil {
				return fmt.Errorf("register %s: %w", j.job.Name(), err)
			}
		}
		maintenance.Start()
		defer maintenance.Stop()
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	api.SetupRoutes(router, api.Deps{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		Repos:        repos,
		Redis:        redisClient,
		Hub:          hub,
		StartedAt:    time.Now().UTC(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.LogStartup(serviceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.LogShutdown(serviceName, "signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server shutdown failed")
	}
	return nil
}

// version is stamped at build time via -ldflags.
var version = "dev"

// buildStore selects the collection-store backend from configuration.
func buildStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Info("using in-memory collection store")
		return storage.NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis storage driver requires a redis connection")
		}
		logger.Info("using redis collection store", zap.String("prefix", cfg.Storage.KeyPrefix))
		return storage.NewRedisStore(redisClient, cfg.Storage.KeyPrefix), nil
	case "sqlite":
		logger.Info("using sqlite collection store", zap.String("path", cfg.Storage.SQLitePath))
		return storage.NewSQLiteStore(cfg.Storage.SQLitePath)
	case "postgres":
		pool, err := database.NewPgxPool(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return storage.NewPostgresStore(ctx, pool)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
