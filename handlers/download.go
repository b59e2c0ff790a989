package handlers

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/flate"

	"gif-compressor/database"
	"gif-compressor/services"
)

// zipCompressionLevel trades speed against size for bulk downloads; GIF data
// is already compressed, so mid-level flate is plenty.
const zipCompressionLevel = 5

// DownloadCompressed streams a completed job's artifact as an attachment.
func (h *Handlers) DownloadCompressed(c *fiber.Ctx) error {
	job, ok := h.loadCompletedJob(c)
	if !ok {
		return nil
	}

	f, err := h.storage.Open(job.CompressedPath)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "artifact no longer available"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to open artifact"})
	}

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", compressedName(job.OriginalFilename)))
	return c.SendStream(f, int(job.CompressedSize))
}

// DownloadOriginal streams the original upload inline.
func (h *Handlers) DownloadOriginal(c *fiber.Ctx) error {
	job, err := h.db.GetJob(c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load job"})
	}

	f, err := h.storage.Open(job.OriginalPath)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "artifact no longer available"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to open artifact"})
	}

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", job.OriginalFilename))
	return c.SendStream(f, int(job.OriginalSize))
}

// DownloadArchive streams a ZIP of every completed artifact among the
// requested IDs. Duplicate archive names are disambiguated with -1, -2, ...
func (h *Handlers) DownloadArchive(c *fiber.Ctx) error {
	idsParam := c.Query("ids")
	if idsParam == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ids query parameter is required"})
	}

	var jobs []*database.Job
	for _, id := range strings.Split(idsParam, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		job, err := h.db.GetJob(id)
		if err != nil || job.Status != database.StatusCompleted {
			continue
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no completed jobs among the requested ids"})
	}

	archiveName := fmt.Sprintf("compressed-gifs-%s.zip", time.Now().Format("2006-01-02"))
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", archiveName))

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if err := h.writeArchive(w, jobs); err != nil {
			h.log.Warn().Err(err).Msg("zip archive aborted")
		}
	})
	return nil
}

func (h *Handlers) writeArchive(w io.Writer, jobs []*database.Job) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, zipCompressionLevel)
	})
	defer zw.Close()

	seen := map[string]int{}
	for _, job := range jobs {
		f, err := h.storage.Open(job.CompressedPath)
		if err != nil {
			// Reaped between listing and download; skip.
			continue
		}

		entry, err := zw.Create(uniqueName(seen, compressedName(job.OriginalFilename)))
		if err != nil {
			f.Close()
			return err
		}
		_, err = io.Copy(entry, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return zw.Close()
}

// compressedName derives the client-facing download name from the original
// upload: photo.gif becomes photo-compressed.gif.
func compressedName(original string) string {
	ext := filepath.Ext(original)
	if ext == "" {
		ext = ".gif"
	}
	base := strings.TrimSuffix(filepath.Base(original), ext)
	return base + "-compressed" + ext
}

// uniqueName disambiguates repeated archive entries: X.gif, X-1.gif, X-2.gif.
func uniqueName(seen map[string]int, name string) string {
	count := seen[name]
	seen[name] = count + 1
	if count == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), count, ext)
}

// loadCompletedJob resolves the :id route parameter. When it reports false
// the response has already been written.
func (h *Handlers) loadCompletedJob(c *fiber.Ctx) (*database.Job, bool) {
	job, err := h.db.GetJob(c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
		} else {
			c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load job"})
		}
		return nil, false
	}
	if job.Status != database.StatusCompleted {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "job is not completed"})
		return nil, false
	}
	return job, true
}
