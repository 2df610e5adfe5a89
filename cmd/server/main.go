package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/bootstrap"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(database.DB); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	if cfg.SeedScenarios {
		if err := database.SeedScenarios(database.DB); err != nil {
			slog.Error("scenario seed failed", "error", err)
			os.Exit(1)
		}
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		logging.NewStdoutHandler(),
		pgLogHandler,
	)))

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cleanupDone)

	// Adapters
	ctx := context.Background()
	blobs, closeBlobs, err := bootstrap.BlobStore(ctx, cfg)
	if err != nil {
		slog.Error("blob store init failed", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	scorer := bootstrap.Scorer(cfg)
	transcriber, closeTranscriber, err := bootstrap.Transcriber(ctx, cfg, scorer)
	if err != nil {
		slog.Error("transcriber init failed", "transcriber", cfg.Transcriber, "error", err)
		os.Exit(1)
	}
	runLease, closeLease, err := bootstrap.RetentionLease(cfg)
	if err != nil {
		slog.Error("retention lease init failed", "error", err)
		os.Exit(1)
	}

	// Services
	accessService := services.NewAccessService(database.DB)
	repService := services.NewRepService(database.DB, blobs, cfg.SignedURLTTL)
	processor := services.NewRepProcessor(database.DB, blobs, transcriber, scorer, accessService, cfg.DeliveryTimeout)
	sweeper := services.NewRetentionSweeper(database.DB, blobs, bootstrap.RetentionConfig(cfg), runLease)

	retentionDone := make(chan struct{})
	if cfg.RetentionInterval > 0 {
		services.StartRetention(sweeper, cfg.RetentionInterval, retentionDone)
		slog.Info("retention ticker started", "interval", cfg.RetentionInterval.String())
	}

	// Handlers
	healthHandler := handlers.NewHealthHandler(database.Ping)
	repHandler := handlers.NewRepHandler(processor, repService)
	accessHandler := handlers.NewAccessHandler(accessService)
	retentionHandler := handlers.NewRetentionHandler(sweeper)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app; audio uploads set the body limit
	app := fiber.New(fiber.Config{
		BodyLimit:    25 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, healthHandler, repHandler, accessHandler, retentionHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(retentionDone)
	close(cleanupDone)

	// In-flight requests finish before adapters and the log sink close
	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	closeLease()
	closeTranscriber()
	closeBlobs()
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	// Close database connections
	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(dto.JobErrorResponse{Error: message})
}
