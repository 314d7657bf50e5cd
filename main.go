package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/handler"
	"github.com/grantscout/grantscout-backend/middleware"
	"github.com/grantscout/grantscout-backend/pkg/logger"
	"github.com/grantscout/grantscout-backend/service"
	"github.com/grantscout/grantscout-backend/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	ctx := context.Background()

	// Database: migrate, then connect the pool
	if err := store.RunMigrations(ctx, cfg.Database.DSN); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	pool, err := store.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis is optional; without it low-balance alerts lose their dedup.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	// Stores
	creditStore := store.NewCreditStore(pool)
	runStore := store.NewRunStore(pool)
	grantStore := store.NewGrantStore(pool)
	scheduleStore := store.NewScheduleStore(pool)

	// Services
	ledger := service.NewLedger(creditStore, cfg.Credits)
	textProvider := service.NewTextProviderClient(&cfg.TextProvider)
	webProvider := service.NewWebProviderClient(&cfg.WebProvider)

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.Notify.Enabled {
		notifier = service.NewEmailNotifier(&cfg.Notify, rdb)
	}

	var archiver service.Archiver
	if cfg.Archive.Enabled {
		archiveSvc, err := service.NewArchiveService(&cfg.Archive)
		if err != nil {
			slog.Error("failed to initialize archive service", "error", err)
			os.Exit(1)
		}
		if err := archiveSvc.EnsureBucket(ctx); err != nil {
			slog.Error("failed to ensure archive bucket", "error", err)
			os.Exit(1)
		}
		archiver = archiveSvc
	}

	orch := service.NewOrchestrator(service.OrchestratorConfig{
		Runs:        runStore,
		Grants:      grantStore,
		Ledger:      ledger,
		Text:        textProvider,
		Web:         webProvider,
		Notifier:    notifier,
		Archive:     archiver,
		Credits:     cfg.Credits,
		Search:      cfg.Search,
		TextTimeout: time.Duration(cfg.TextProvider.TimeoutSeconds) * time.Second,
		WebTimeout:  time.Duration(cfg.WebProvider.TimeoutSeconds) * time.Second,
		SourceCount: cfg.WebProvider.SourceCount,
	})

	// Scheduler for standing searches
	scheduler := service.NewScheduler(cfg.Search, scheduleStore, orch)
	if err := scheduler.Start(); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	searchHandler := handler.NewSearchHandler(orch, runStore, grantStore, cfg.Search.HistoryDays)
	creditsHandler := handler.NewCreditsHandler(ledger)
	webhookHandler := handler.NewPaymentWebhookHandler(ledger, &cfg.Payments)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())     // Request ID for tracing
	router.Use(middleware.Recovery())      // Panic recovery
	router.Use(middleware.RequestLogger()) // Access logging
	router.Use(corsMiddleware())           // CORS

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/payments/webhook", webhookHandler.Handle)
		api.GET("/credits/tiers", creditsHandler.Tiers)
	}

	// Authenticated routes. The rate limit sits behind auth so it keys
	// per user rather than per IP; the public endpoints are cheap and the
	// webhook is already gated by its signature.
	authed := api.Group("/")
	authed.Use(middleware.AuthMiddleware(&cfg.Auth))
	authed.Use(middleware.RateLimit(100, time.Minute)) // 100 requests per user per minute
	{
		authed.GET("/credits/balance", creditsHandler.Balance)
		authed.GET("/credits/transactions", creditsHandler.Transactions)
		authed.POST("/credits/topup", creditsHandler.TopUp)
	}

	// Paid routes additionally require whitelist approval
	paid := authed.Group("/")
	paid.Use(middleware.RequireApproved())
	{
		paid.POST("/searches", searchHandler.Initiate)
		paid.GET("/searches", searchHandler.List)
		paid.GET("/searches/:id", searchHandler.Get)
		paid.POST("/searches/:id/cancel", searchHandler.Cancel)
		paid.GET("/searches/:id/grants", searchHandler.ListGrants)
		paid.POST("/grants/:id/save", searchHandler.SaveGrant)
		paid.DELETE("/grants/:id/save", searchHandler.UnsaveGrant)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight search runs settle their costs before exiting.
	orch.Wait()

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
