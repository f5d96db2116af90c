package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/di"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/pkg/config"
	"github.com/anirudhsonawane/ticket-reservation/pkg/database"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/middleware"
	pkgredis "github.com/anirudhsonawane/ticket-reservation/pkg/redis"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

const serviceName = "reservation-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Service...", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		appLog.Warn("Failed to initialize tracing", zap.Error(err))
	}
	metrics.Init()

	var db *database.PostgresDB
	if di.NeedsPostgres(cfg) {
		db, err = di.OpenDatabase(ctx, cfg)
		if err != nil {
			appLog.Fatal("Database connection failed", zap.Error(err))
		}
		defer db.Close()
		appLog.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
	}

	// Redis also backs idempotency keys, so connect whenever a backend needs it
	var redisClient *pkgredis.Client
	if di.NeedsRedis(cfg) {
		redisClient, err = di.OpenRedis(ctx, cfg)
		if err != nil {
			appLog.Fatal("Redis connection failed", zap.Error(err))
		}
		defer redisClient.Close()
		appLog.Info("Redis connected", zap.String("host", cfg.Redis.Host))
	}

	eventPublisher := di.OpenEventPublisher(ctx, cfg, serviceName)
	defer eventPublisher.Close()

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:         cfg,
		DB:             db,
		Redis:          redisClient,
		EventPublisher: eventPublisher,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	if cfg.Reservation.EmbeddedSweeper {
		if err := container.OfferSweeper.Start(ctx); err != nil {
			appLog.Fatal("Failed to start offer sweeper", zap.Error(err))
		}
		defer container.OfferSweeper.Stop()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(serviceName))

	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userAuth := middleware.UserIDMiddleware()
	adminAuth := middleware.AdminAuth(middleware.AdminAuthConfig{
		Secret:        cfg.JWT.Secret,
		Issuer:        cfg.JWT.Issuer,
		AllowedEmails: cfg.Admin.Emails,
	})

	idempotent := func(c *gin.Context) { c.Next() }
	if redisClient != nil {
		idempotent = middleware.IdempotencyMiddleware(middleware.DefaultIdempotencyConfig(redisClient.Client()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": serviceName,
			})
		})

		v1.POST("/reservations", userAuth, idempotent, container.ReservationHandler.Reserve)
		v1.POST("/claims", userAuth, idempotent, container.ClaimHandler.SubmitManualClaim)
		v1.GET("/capacities/:event_id", container.AdminHandler.ListCapacities)

		queue := v1.Group("/queue")
		{
			queue.GET("/:event_id/status", container.ReservationHandler.GetQueueStatus)
			queue.GET("/:event_id/position", userAuth, container.ReservationHandler.GetPosition)
			queue.DELETE("/:event_id", userAuth, container.ReservationHandler.LeaveQueue)
		}

		tickets := v1.Group("/tickets")
		{
			tickets.GET("/:id", userAuth, container.TicketHandler.GetTicket)
			tickets.POST("/:id/refund", adminAuth, container.TicketHandler.RefundTicket)
			tickets.POST("/:id/scan", adminAuth, container.TicketHandler.ScanTicket)
		}

		payments := v1.Group("/payments")
		{
			payments.POST("/stripe/webhook", container.PaymentHandler.HandleStripeWebhook)
			payments.POST("/callback", container.PaymentHandler.HandleSignedCallback)
		}

		admin := v1.Group("/admin", adminAuth)
		{
			admin.PUT("/capacities", container.AdminHandler.DefineCapacity)
			admin.POST("/sweeps", container.AdminHandler.RunSweep)
			admin.GET("/sweeps/stats", container.AdminHandler.SweepStats)

			claims := admin.Group("/claims")
			claims.GET("", container.ClaimHandler.ListClaims)
			claims.GET("/stats", container.ClaimHandler.ClaimStats)
			claims.POST("/operator", container.ClaimHandler.OperatorEntry)
			claims.GET("/:reference", container.ClaimHandler.GetClaim)
			claims.POST("/:reference/approve", container.ClaimHandler.ApproveClaim)
			claims.POST("/:reference/reject", container.ClaimHandler.RejectClaim)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		appLog.Info(fmt.Sprintf("Reservation Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("Failed to flush traces", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
