// Package api wires the HTTP surface: route registration, middleware
// ordering, and handler construction. Everything the handlers need is
// injected through Deps; the package holds no state of its own.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ayushsreejith06/MAX-sub002/internal/api/handlers"
	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/middleware"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// Deps carries the constructed services the routes close over. Redis
// and Hub may be nil; the affected routes degrade gracefully.
type Deps struct {
	Config       *config.Config
	Logger       *logging.StandardLogger
	Orchestrator *engine.Orchestrator
	Repos        *storage.Repos
	Redis        *redis.Client
	Hub          *handlers.StreamHub
	StartedAt    time.Time
}

// SetupRoutes registers every route on the router. Middleware order:
// recovery, request logging, Sentry (when configured), rate limiting,
// then per-group auth.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog(deps.Logger))
	if deps.Config.Sentry.DSN != "" {
		router.Use(middleware.Telemetry())
	}

	rlConfig := middleware.DefaultRateLimitConfig()
	if deps.Config.Server.RateLimitPerMinute > 0 {
		rlConfig.Requests = deps.Config.Server.RateLimitPerMinute
	}
	limiter := middleware.NewRateLimiter(rlConfig, deps.Redis, deps.Logger.Logger())
	router.Use(limiter.Middleware())

	healthHandler := handlers.NewHealthHandler(deps.Repos.Store, deps.Redis)
	router.GET("/health", healthHandler.Health)
	router.HEAD("/health", healthHandler.Health)
	router.GET("/health/system", healthHandler.SystemHealth)

	if deps.Hub != nil {
		router.GET("/ws", deps.Hub.Handle)
	}

	auth := middleware.NewAuth(deps.Config.Auth.Enabled, deps.Config.Auth.JWTSecret, deps.Logger.Logger())

	sectorHandler := handlers.NewSectorHandler(deps.Orchestrator, deps.Repos)
	agentHandler := handlers.NewAgentHandler(deps.Orchestrator, deps.Repos)
	discussionHandler := handlers.NewDiscussionHandler(deps.Repos)
	executionHandler := handlers.NewExecutionHandler(deps.Repos)
	accountHandler := handlers.NewAccountHandler(deps.Repos)
	statusHandler := handlers.NewStatusHandler(deps.Orchestrator, deps.Repos, deps.StartedAt)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sectors", sectorHandler.List)
		v1.GET("/sectors/:id", sectorHandler.Get)
		v1.GET("/sectors/:id/agents", agentHandler.List)
		v1.GET("/discussions", discussionHandler.List)
		v1.GET("/discussions/:id", discussionHandler.Get)
		v1.GET("/executions", executionHandler.List)
		v1.GET("/account", accountHandler.Get)
		v1.GET("/status", statusHandler.Get)
	}

	mutating := v1.Group("")
	mutating.Use(auth.RequireAuth())
	{
		mutating.POST("/sectors", sectorHandler.Create)
		mutating.PATCH("/sectors/:id", sectorHandler.Update)
		mutating.POST("/sectors/:id/agents", agentHandler.Create)
		mutating.DELETE("/sectors/:id/agents/:agentID", agentHandler.Delete)
		mutating.POST("/sectors/:id/deposit", sectorHandler.Deposit)
		mutating.POST("/sectors/:id/withdraw", sectorHandler.Withdraw)
		mutating.POST("/sectors/:id/confidence-tick", sectorHandler.ConfidenceTick)
		mutating.POST("/sectors/:id/message-manager", sectorHandler.MessageManager)
		mutating.PUT("/status/mode", statusHandler.SetMode)
	}

	// Sector deletion is destructive and additionally guarded by the
	// operator token when one is configured.
	destructive := v1.Group("")
	destructive.Use(auth.RequireAuth())
	if deps.Config.Auth.OperatorTokenHash != "" {
		destructive.Use(middleware.RequireOperatorToken(deps.Config.Auth.OperatorTokenHash))
	}
	{
		destructive.DELETE("/sectors/:id", sectorHandler.Delete)
	}
}
