package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/config"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/database"
	applog "github.com/yuhueng/petbnb-pwa-sub001/internal/logger"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/routes"
)

// multipart overhead on top of the largest accepted attachment
const bodyLimitSlack = 1 << 20

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logg := applog.New(applog.Options{Level: cfg.LogLevel, Pretty: cfg.IsDevelopment()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		logg.Fatal().Msg("DB_URL is required")
	}
	pool, err := database.Connect(ctx, cfg.DBUrl, logg)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	// 3. Setup Fiber
	app := fiber.New(fiber.Config{
		BodyLimit:             int(cfg.MaxAttachmentBytes) + bodyLimitSlack,
		DisableStartupMessage: !cfg.IsDevelopment(),
	})

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		pingCtx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	if err := routes.RegisterRoutes(ctx, app, cfg, pool, logg); err != nil {
		logg.Fatal().Err(err).Msg("Failed to register routes")
	}

	go func() {
		<-ctx.Done()
		logg.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logg.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	// 4. Start Server
	logg.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		logg.Fatal().Err(err).Msg("Server failed to start")
	}
}
