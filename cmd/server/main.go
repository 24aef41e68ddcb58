package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/recon-api/internal/auth"
	"github.com/ksred/recon-api/internal/cache"
	"github.com/ksred/recon-api/internal/config"
	"github.com/ksred/recon-api/internal/database"
	"github.com/ksred/recon-api/internal/notify"
	"github.com/ksred/recon-api/internal/reconciliation"
	"github.com/ksred/recon-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the reconciliation API server with
// graceful shutdown support
func main() {
	// Configuration is validated up front; a missing JWT secret is
	// fatal rather than running with undefined security behavior.
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := database.SeedDefaultRules(db); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed default rules")
	}

	// Connect the cache backend. The cache is a pure performance
	// optimization, so an unreachable redis degrades to an in-process
	// store instead of blocking startup.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	var store cache.KeyValueStore
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		zlog.Warn().Err(err).Str("addr", cfg.RedisAddr).
			Msg("redis unreachable, falling back to in-process cache")
		redisClient = nil
		store = cache.NewMemoryStore()
	} else {
		store = cache.NewRedisStoreFromClient(redisClient)
	}
	pingCancel()

	cacheService := cache.NewService(store)
	fanout := notify.NewFanout(redisClient)

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if !cfg.IsProduction() {
		// Demo credentials for local development and the simulator
		authService.RegisterAPICredentials(auth.DemoAPIKey, auth.DemoAPISecret)
	}

	reconService := reconciliation.NewService(db, fanout)
	cachedService := reconciliation.NewCachedService(reconService, cacheService)
	engine := reconciliation.NewEngine(db, cachedService, fanout, reconciliation.EngineOptions{})
	reconHandlers := reconciliation.NewGinHandlers(cachedService, engine, cacheService)

	// Protective middleware state, constructed once and injected
	limiter := middleware.NewRateLimiter()
	breaker := middleware.NewCircuitBreaker()

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	go limiter.Sweep(backgroundCtx, time.Minute)

	if cfg.ReconcileInterval > 0 {
		processor := reconciliation.NewProcessor(engine, cfg.ReconcileInterval)
		go processor.Start(backgroundCtx)
	}

	// Initialize router
	router := gin.Default()
	setupRoutes(router, cfg, authHandlers, reconHandlers, limiter, breaker)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// The reconciliation group sits behind the full protective chain:
// JWT auth, then rate limiting, then the circuit breaker
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	reconHandlers *reconciliation.GinHandlers,
	limiter *middleware.RateLimiter,
	breaker *middleware.CircuitBreaker,
) {
	rateOpts := middleware.RateLimitOptions{
		Window: cfg.RateLimitWindow,
		Max:    cfg.RateLimitMax,
	}
	circuitOpts := middleware.CircuitOptions{
		Threshold:    cfg.BreakerThreshold,
		ResetTimeout: cfg.BreakerResetTimeout,
	}

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		authGroup.Use(limiter.Middleware(rateOpts))
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
			authGroup.POST("/refresh", authHandlers.RefreshTokenHandler())
		}

		// Reconciliation routes
		recon := v1.Group("/reconciliation")
		recon.Use(
			middleware.JWTAuth(cfg.JWTSecret),
			limiter.Middleware(rateOpts),
			breaker.Middleware(circuitOpts),
		)
		{
			recon.POST("/records", reconHandlers.CreateRecordHandler())
			recon.POST("/records/import", reconHandlers.ImportRecordsHandler())
			recon.GET("/records", reconHandlers.ListRecordsHandler())
			recon.GET("/records/:record_number", reconHandlers.GetRecordHandler())
			recon.PUT("/records/:record_number", reconHandlers.UpdateRecordHandler())
			recon.POST("/records/:record_number/resolve", reconHandlers.ResolveRecordHandler())

			recon.GET("/stats", reconHandlers.StatsHandler())
			recon.POST("/reconcile", reconHandlers.AutoReconcileHandler())
			recon.POST("/match/bulk", reconHandlers.BulkMatchHandler())

			recon.GET("/exceptions", reconHandlers.ListExceptionsHandler())
			recon.POST("/exceptions", reconHandlers.CreateExceptionHandler())
			recon.PUT("/exceptions/:exception_id/resolve", reconHandlers.ResolveExceptionHandler())

			recon.GET("/rules", reconHandlers.ListRulesHandler())
		}

		// Cache introspection (admin)
		cacheGroup := v1.Group("/cache")
		cacheGroup.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			cacheGroup.GET("/stats", reconHandlers.CacheStatsHandler())
		}
	}
}
