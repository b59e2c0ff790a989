package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"gif-compressor/config"
	"gif-compressor/database"
	"gif-compressor/services"
)

// Handlers is the thin HTTP adapter over the repository, the artifact store
// and the worker pool.
type Handlers struct {
	db       *database.Database
	storage  *services.StorageService
	gifsicle *services.GifsicleService
	queue    *services.QueueService
	system   *services.SystemMonitor
	config   *config.Config
	log      zerolog.Logger
}

func New(db *database.Database, storage *services.StorageService, gifsicle *services.GifsicleService, queue *services.QueueService, system *services.SystemMonitor, cfg *config.Config, log zerolog.Logger) *Handlers {
	return &Handlers{
		db:       db,
		storage:  storage,
		gifsicle: gifsicle,
		queue:    queue,
		system:   system,
		config:   cfg,
		log:      log.With().Str("component", "handlers").Logger(),
	}
}

// HealthCheck is the liveness probe.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "gif-compressor",
		"version": config.GetVersion(),
	})
}

// GetSystemStats reports a host resource snapshot for the dashboard.
func (h *Handlers) GetSystemStats(c *fiber.Ctx) error {
	return c.JSON(h.system.Snapshot())
}

// GetQueueConfig returns the worker pool shape.
func (h *Handlers) GetQueueConfig(c *fiber.Ctx) error {
	status := h.queue.Status()
	return c.JSON(fiber.Map{
		"concurrency":     status.Concurrency,
		"max_concurrency": h.queue.MaxConcurrency(),
		"active":          status.Active,
		"pending":         status.Pending,
	})
}

// UpdateQueueConfig adjusts worker concurrency at runtime.
func (h *Handlers) UpdateQueueConfig(c *fiber.Ctx) error {
	var body struct {
		Concurrency int `json:"concurrency"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if body.Concurrency < 1 || body.Concurrency > h.queue.MaxConcurrency() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "concurrency out of range",
		})
	}

	applied := h.queue.SetConcurrency(body.Concurrency)
	h.log.Info().Int("concurrency", applied).Msg("queue concurrency updated")
	return c.JSON(fiber.Map{"concurrency": applied})
}
