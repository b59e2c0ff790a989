package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"gif-compressor/config"
	"gif-compressor/database"
	"gif-compressor/handlers"
	"gif-compressor/predictor"
	"gif-compressor/services"
)

func main() {
	// Missing .env just means plain environment variables.
	_ = godotenv.Load()

	cfg := config.New()
	log := newLogger(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		// A broken repository is fatal; the container restarts us.
		log.Fatal().Err(err).Msg("failed to open job database")
	}

	// Jobs left in processing by a previous run are dead: their subprocess
	// is gone and nothing will ever finish them.
	if interrupted, err := db.FailInterrupted(); err != nil {
		log.Fatal().Err(err).Msg("failed to sweep interrupted jobs")
	} else if interrupted > 0 {
		log.Warn().Int64("jobs", interrupted).Msg("marked interrupted jobs as failed")
	}

	storage, err := services.NewStorageService(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact storage")
	}

	baseline, err := predictor.LoadBaseline(cfg.BaselinePath)
	if err != nil {
		log.Warn().Err(err).Msg("baseline model unavailable, using heuristic estimates")
		baseline = nil
	}
	pred := predictor.New(db, baseline, log)

	gifsicle := services.NewGifsicleService(cfg.GifsiclePath)
	bus := services.NewEventBus()
	wsHub := services.NewWebSocketHub(bus, log)

	retention := time.Duration(cfg.RetentionSeconds) * time.Second
	queue := services.NewQueueService(db, storage, gifsicle, pred, bus, cfg.DefaultConcurrency, cfg.MaxConcurrency, retention, log)

	reaper := services.NewReaper(db, storage, time.Duration(cfg.ReaperIntervalSeconds)*time.Second, log)
	reaper.Start()

	system := services.NewSystemMonitor(cfg.OutputDir)
	h := handlers.New(db, storage, gifsicle, queue, system, cfg, log)

	app := fiber.New(fiber.Config{
		BodyLimit:         int(cfg.MaxUploadSize) * 2, // multipart overhead headroom
		StreamRequestBody: true,
		ReadTimeout:       300 * time.Second,
		WriteTimeout:      300 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return ctx.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${method} | ${path}\n",
	}))

	api := app.Group("/api")
	{
		api.Get("/health", h.HealthCheck)
		api.Get("/system", h.GetSystemStats)

		api.Post("/upload", h.Upload)

		api.Get("/jobs", h.ListJobs)
		api.Get("/jobs/counts", h.GetJobCounts)
		api.Get("/jobs/:id", h.GetJob)
		api.Delete("/jobs/:id", h.DeleteJob)
		api.Post("/jobs/:id/retry", h.RetryJob)

		api.Get("/download/zip/archive", h.DownloadArchive)
		api.Get("/download/:id/original", h.DownloadOriginal)
		api.Get("/download/:id", h.DownloadCompressed)

		api.Get("/queue/config", h.GetQueueConfig)
		api.Put("/queue/config", h.UpdateQueueConfig)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		wsHub.HandleConnection(c)
	}))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		reaper.Stop()
		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
		if err := queue.Shutdown(30 * time.Second); err != nil {
			log.Error().Err(err).Msg("queue shutdown timed out")
		}
		os.Exit(0)
	}()

	log.Info().
		Str("version", config.GetVersion()).
		Str("port", cfg.Port).
		Int("concurrency", cfg.DefaultConcurrency).
		Msg("server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
