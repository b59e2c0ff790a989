package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"gif-compressor/database"
)

const defaultPageSize = 20

// ListJobs returns a filtered, paginated job listing ordered newest first.
func (h *Handlers) ListJobs(c *fiber.Ctx) error {
	filter := database.ListFilter{
		SessionID: c.Query("session_id"),
		Filename:  c.Query("filename"),
		Limit:     c.QueryInt("limit", defaultPageSize),
		Offset:    c.QueryInt("offset", 0),
	}

	if status := c.Query("status"); status != "" {
		filter.Statuses = strings.Split(status, ",")
	}
	if t, ok := parseDate(c.Query("start_date")); ok {
		filter.StartDate = &t
	}
	if t, ok := parseDate(c.Query("end_date")); ok {
		filter.EndDate = &t
	}

	jobs, total, err := h.db.ListJobs(filter)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list jobs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list jobs",
		})
	}

	return c.JSON(fiber.Map{
		"jobs":   jobs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// GetJobCounts returns the per-status job counts.
func (h *Handlers) GetJobCounts(c *fiber.Ctx) error {
	counts, err := h.db.CountJobs()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to count jobs",
		})
	}
	return c.JSON(counts)
}

// GetJob returns a single job record.
func (h *Handlers) GetJob(c *fiber.Ctx) error {
	job, err := h.db.GetJob(c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load job"})
	}
	return c.JSON(job)
}

// DeleteJob removes a job and its artifacts. The server honors DELETE in any
// state: client session GC relies on being able to clear stale uploading and
// queued jobs after a reload.
func (h *Handlers) DeleteJob(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.db.GetJob(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load job"})
	}

	if err := h.storage.Delete(job.OriginalPath); err != nil {
		h.log.Warn().Err(err).Str("job_id", id).Msg("failed to delete original artifact")
	}
	if err := h.storage.Delete(job.CompressedPath); err != nil {
		h.log.Warn().Err(err).Str("job_id", id).Msg("failed to delete compressed artifact")
	}

	deleted, err := h.db.DeleteJob(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete job"})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}

	h.log.Info().Str("job_id", id).Str("status", job.Status).Msg("job deleted")
	return c.JSON(fiber.Map{"success": true})
}

// RetryJob re-enqueues a failed job. Lifecycle fields reset; the frozen
// options and the original artifact are preserved byte for byte.
func (h *Handlers) RetryJob(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.db.GetJob(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load job"})
	}

	if job.Status != database.StatusFailed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "only failed jobs can be retried",
		})
	}

	err = h.db.UpdateJob(id, map[string]interface{}{
		"status":            database.StatusQueued,
		"progress":          0,
		"error_message":     "",
		"compressed_path":   "",
		"compressed_size":   0,
		"compressed_width":  0,
		"compressed_height": 0,
		"reduction_percent": 0,
		"started_at":        nil,
		"completed_at":      nil,
		"expires_at":        nil,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to retry job"})
	}

	h.queue.Submit(id)
	h.log.Info().Str("job_id", id).Msg("job re-enqueued")
	return c.JSON(fiber.Map{"success": true})
}
