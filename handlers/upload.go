package handlers

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"gif-compressor/database"
)

type uploadedJob struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type uploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Upload admits a batch of animated images. Each file becomes an independent
// job: validation failures are reported per file and never leave side
// effects; only when every file fails does the request itself fail.
func (h *Handlers) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid multipart form",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no files provided",
		})
	}

	globalOptions := database.DefaultCompressionOptions()
	if raw := c.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &globalOptions); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "malformed options",
			})
		}
	}

	perFileOptions := map[string]database.CompressionOptions{}
	if raw := c.FormValue("perFileOptions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &perFileOptions); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "malformed perFileOptions",
			})
		}
	}

	sessionID := c.FormValue("session_id")

	var jobs []uploadedJob
	var failures []uploadError
	for _, file := range files {
		options := globalOptions
		if fileOptions, ok := perFileOptions[file.Filename]; ok {
			options = fileOptions
		}
		options.Normalize()

		job, err := h.admitFile(c.Context(), file, options, sessionID)
		if err != nil {
			failures = append(failures, uploadError{Filename: file.Filename, Error: err.Error()})
			continue
		}
		jobs = append(jobs, uploadedJob{ID: job.ID, Filename: job.OriginalFilename})
	}

	if len(jobs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": failures})
	}

	response := fiber.Map{"jobs": jobs}
	if len(failures) > 0 {
		response["errors"] = failures
	}
	return c.Status(fiber.StatusCreated).JSON(response)
}

// admitFile validates one upload, streams it to the artifact store, records
// the job and hands it to the worker pool.
func (h *Handlers) admitFile(ctx context.Context, file *multipart.FileHeader, options database.CompressionOptions, sessionID string) (*database.Job, error) {
	if err := validateUpload(file, h.config.MaxUploadSize); err != nil {
		return nil, err
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	job := &database.Job{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		Status:           database.StatusUploading,
		Progress:         0,
		OriginalFilename: file.Filename,
		OriginalSize:     file.Size,
		Options:          options,
		CreatedAt:        time.Now(),
	}
	if err := h.db.CreateJob(job); err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to record job")
	}

	src, err := file.Open()
	if err != nil {
		h.db.DeleteJob(job.ID)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to read upload")
	}
	defer src.Close()

	path, written, err := h.storage.SaveOriginal(file.Filename, src)
	if err != nil {
		h.db.DeleteJob(job.ID)
		h.log.Error().Err(err).Str("filename", file.Filename).Msg("failed to store upload")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to store upload")
	}

	patch := map[string]interface{}{
		"status":        database.StatusQueued,
		"progress":      0,
		"original_path": path,
		"original_size": written,
	}
	if info, err := h.gifsicle.Probe(ctx, path); err == nil {
		patch["original_width"] = info.Width
		patch["original_height"] = info.Height
	}
	if err := h.db.UpdateJob(job.ID, patch); err != nil {
		h.storage.Delete(path)
		h.db.DeleteJob(job.ID)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to record job")
	}

	h.queue.Submit(job.ID)
	h.log.Info().
		Str("job_id", job.ID).
		Str("filename", file.Filename).
		Int64("size", written).
		Msg("job admitted")
	return job, nil
}

func validateUpload(file *multipart.FileHeader, maxSize int64) error {
	if file.Size > maxSize {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "file exceeds maximum upload size")
	}

	contentType := file.Header.Get("Content-Type")
	isGif := contentType == "image/gif" ||
		(contentType == "" && strings.HasSuffix(strings.ToLower(file.Filename), ".gif"))
	if !isGif {
		return fiber.NewError(fiber.StatusUnsupportedMediaType, "only animated GIF files are accepted")
	}
	return nil
}
