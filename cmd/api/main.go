package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/cache"
	"github.com/GTDGit/conversion_api/internal/config"
	"github.com/GTDGit/conversion_api/internal/database"
	"github.com/GTDGit/conversion_api/internal/handler"
	"github.com/GTDGit/conversion_api/internal/middleware"
	"github.com/GTDGit/conversion_api/internal/repository"
	"github.com/GTDGit/conversion_api/internal/service"
	"github.com/GTDGit/conversion_api/internal/sse"
	"github.com/GTDGit/conversion_api/internal/utils"
	"github.com/GTDGit/conversion_api/internal/worker"
	"github.com/GTDGit/conversion_api/pkg/adplatform"
)

// main is the entrypoint for the conversion callback API.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Msg("starting conversion api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect database and migrate
	db, err := database.Connect(ctx, &cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db.DB, "file://migrations"); err != nil {
		log.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 3a. Redis is optional: without it dedup relies on the unique index
	// alone and refreshes are only serialised within this process.
	var (
		keyCache    service.KeyCache
		refreshMux  service.Locker
		redisHealth handler.Pinger
	)
	if cfg.Redis.Enabled() {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Error().Err(err).Msg("redis connection failed")
			os.Exit(1)
		}
		defer redisClient.Close()
		keyCache = cache.NewEventKeyCache(redisClient, cfg.Ingest.DedupCacheTTL)
		refreshMux = cache.NewLock(redisClient, "token-refresh", cfg.Token.RefreshLockTTL)
		redisHealth = redisClient
		log.Info().Msg("redis connected successfully")
	} else {
		log.Warn().Msg("REDIS_HOST not set, running without dedup cache and refresh lock")
	}

	// 4. Ad platform client
	platform := adplatform.NewClient(adplatform.Config{
		ReportURL:  cfg.AdPlatform.ReportURL,
		RefreshURL: cfg.AdPlatform.RefreshURL,
		AppID:      cfg.AdPlatform.AppID,
		AppSecret:  cfg.AdPlatform.AppSecret,
		Timeout:    cfg.AdPlatform.Timeout,
	}, nil)

	// 5. Repositories
	eventRepo := repository.NewConversionEventRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	// 6. Token manager
	tokenMgr := service.NewTokenManager(tokenRepo, platform, refreshMux, cfg.Token.RefreshTokenTTL)
	if err := tokenMgr.Load(ctx); err != nil {
		log.Error().Err(err).Msg("failed to load tokens")
		os.Exit(1)
	}
	if cfg.Token.BootstrapAccess != "" && cfg.Token.BootstrapRefresh != "" {
		if err := tokenMgr.Bootstrap(ctx, cfg.Token.BootstrapAccess, cfg.Token.BootstrapRefresh, cfg.Token.BootstrapExpireIn); err != nil {
			log.Error().Err(err).Msg("token bootstrap failed")
			os.Exit(1)
		}
	}
	if _, err := tokenMgr.AccessToken(); err != nil {
		log.Warn().Msg("No active access token, conversions will be recorded as failed until tokens are set")
	}

	// 7. Services
	conversionSvc := service.NewConversionService(
		eventRepo,
		service.NewDedupLedger(eventRepo, keyCache),
		service.NewCallbackForwarder(platform, tokenMgr),
	)
	adminEventSvc := service.NewAdminEventService(eventRepo, conversionSvc)

	// Live feed for the admin dashboard
	sseHub := sse.NewHub(50)
	conversionSvc.SetNotifier(sse.NewHubNotifier(sseHub))

	// 8. Handlers
	handlers := &Handlers{
		Health:     handler.NewHealthHandler(db, tokenMgr).WithRedis(redisHealth),
		Conversion: handler.NewConversionHandler(conversionSvc),
		Admin:      handler.NewAdminHandler(adminEventSvc, tokenMgr).WithHistory(tokenRepo),
		SSE:        handler.NewSSEHandler(sseHub, cfg.Admin.JWTSecret),
	}

	// 9. Middleware
	jwtMw := middleware.NewJWTMiddleware(cfg.Admin.JWTSecret)
	adminLimiter := middleware.NewIPRateLimiter(cfg.Admin.RateLimitRPS, cfg.Admin.RateLimitBurst)
	var ingestLimiter *middleware.IPRateLimiter
	if cfg.Ingest.RateLimitRPS > 0 {
		ingestLimiter = middleware.NewIPRateLimiter(cfg.Ingest.RateLimitRPS, cfg.Ingest.RateLimitBurst)
	}

	// 10. Router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Admin.AllowedOrigins))
	setupRoutes(router, handlers, jwtMw, adminLimiter, ingestLimiter)

	// 11. Token refresh worker
	refreshWorker := worker.NewTokenRefreshWorker(
		tokenMgr,
		cfg.Token.RefreshInterval,
		worker.RetryPolicy{MaxRetries: cfg.Token.MaxRetries, Delay: cfg.Token.RetryDelay},
		worker.SystemClock,
		cfg.Token.RefreshOnStart,
	)
	go refreshWorker.Start(ctx)

	// 12. Start HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 13. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// 14. Stop the worker; in-flight ingests finish on their own context
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

// Handlers groups all HTTP handlers used by the server.
type Handlers struct {
	Health     *handler.HealthHandler
	Conversion *handler.ConversionHandler
	Admin      *handler.AdminHandler
	SSE        *handler.SSEHandler
}

// setupRoutes registers all routes.
func setupRoutes(router *gin.Engine, handlers *Handlers, jwtMw *middleware.JWTMiddleware, adminLimiter, ingestLimiter *middleware.IPRateLimiter) {
	router.GET("/v1/health", handlers.Health.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Ingest routes answer ad platforms and SDKs, which read the ack code
	ingest := router.Group("")
	if ingestLimiter != nil {
		ingest.Use(ingestLimiter.HandleWith("ingest", func(c *gin.Context) {
			utils.WriteAck(c, http.StatusTooManyRequests, utils.Ack{Code: utils.AckRateLimited, Message: "rate limited"}, "")
		}))
	}
	{
		ingest.GET("/conversion/callback", handlers.Conversion.Callback)
		ingest.POST("/conversion/callback", handlers.Conversion.Callback)
		ingest.GET("/openid/report", handlers.Conversion.Report)
		ingest.POST("/openid/report", handlers.Conversion.Report)
	}

	// SSE authenticates via query token, so it sits outside the JWT group
	router.GET("/v1/admin/events/stream", adminLimiter.Handle("admin"), handlers.SSE.Stream)

	// Admin routes
	admin := router.Group("/v1/admin")
	admin.Use(adminLimiter.Handle("admin"), jwtMw.Handle())
	{
		// Tokens
		admin.POST("/tokens", handlers.Admin.SetTokens)
		admin.POST("/tokens/refresh", handlers.Admin.RefreshTokens)
		admin.GET("/tokens/status", handlers.Admin.TokenStatus)
		admin.GET("/tokens/history", handlers.Admin.TokenHistory)

		// Events
		admin.GET("/events", handlers.Admin.ListEvents)
		admin.GET("/events/stats", handlers.Admin.EventStats)
		admin.GET("/events/:id", handlers.Admin.GetEvent)
		admin.POST("/events/:id/replay", handlers.Admin.ReplayEvent)
	}
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
