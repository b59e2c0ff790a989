package handlers

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gif-compressor/database"
)

func seedCompletedJob(t *testing.T, e *testEnv, filename, content string) *database.Job {
	t.Helper()

	originalPath, size, err := e.storage.SaveOriginal(filename, strings.NewReader("original "+content))
	require.NoError(t, err)

	compressedPath, compressedSize, err := e.storage.SaveOriginal(filename, strings.NewReader(content))
	require.NoError(t, err)

	job := seedJob(t, e, database.StatusCompleted)
	require.NoError(t, e.db.UpdateJob(job.ID, map[string]interface{}{
		"original_filename": filename,
		"original_path":     originalPath,
		"original_size":     size,
		"compressed_path":   compressedPath,
		"compressed_size":   compressedSize,
	}))

	reloaded, err := e.db.GetJob(job.ID)
	require.NoError(t, err)
	return reloaded
}

func TestDownloadCompressed(t *testing.T) {
	e := newTestEnv(t)
	job := seedCompletedJob(t, e, "banner.gif", "compressed bytes")

	resp := e.request(t, "GET", "/api/download/"+job.ID, nil, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get(fiber.HeaderContentType))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), `"banner-compressed.gif"`)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "attachment")

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "compressed bytes", string(data))
}

func TestDownloadCompressedRequiresCompletion(t *testing.T) {
	e := newTestEnv(t)

	job := seedJob(t, e, database.StatusProcessing)
	resp := e.request(t, "GET", "/api/download/"+job.ID, nil, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = e.request(t, "GET", "/api/download/"+uuid.New().String(), nil, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDownloadCompressedReapedArtifact(t *testing.T) {
	e := newTestEnv(t)
	job := seedCompletedJob(t, e, "gone.gif", "bytes")
	require.NoError(t, e.storage.Delete(job.CompressedPath))

	resp := e.request(t, "GET", "/api/download/"+job.ID, nil, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDownloadOriginal(t *testing.T) {
	e := newTestEnv(t)
	job := seedCompletedJob(t, e, "banner.gif", "compressed bytes")

	resp := e.request(t, "GET", "/api/download/"+job.ID+"/original", nil, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "inline")
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), `"banner.gif"`)

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "original compressed bytes", string(data))
}

func TestDownloadArchive(t *testing.T) {
	e := newTestEnv(t)
	a := seedCompletedJob(t, e, "first.gif", "aaa")
	b := seedCompletedJob(t, e, "second.gif", "bbbbbb")
	failed := seedJob(t, e, database.StatusFailed)

	resp := e.request(t, "GET", "/api/download/zip/archive?ids="+a.ID+","+b.ID+","+failed.ID, nil, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get(fiber.HeaderContentType))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "compressed-gifs-")

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2, "failed job is excluded")

	names := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		names[f.Name] = string(content)
	}
	assert.Equal(t, "aaa", names["first-compressed.gif"])
	assert.Equal(t, "bbbbbb", names["second-compressed.gif"])
}

func TestDownloadArchiveDuplicateNames(t *testing.T) {
	e := newTestEnv(t)
	a := seedCompletedJob(t, e, "same.gif", "one")
	b := seedCompletedJob(t, e, "same.gif", "two")

	resp := e.request(t, "GET", "/api/download/zip/archive?ids="+a.ID+","+b.ID, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "same-compressed.gif")
	assert.Contains(t, names, "same-compressed-1.gif")
}

func TestDownloadArchiveNoCompletedJobs(t *testing.T) {
	e := newTestEnv(t)
	failed := seedJob(t, e, database.StatusFailed)

	resp := e.request(t, "GET", "/api/download/zip/archive?ids="+failed.ID, nil, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = e.request(t, "GET", "/api/download/zip/archive", nil, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCompressedName(t *testing.T) {
	assert.Equal(t, "photo-compressed.gif", compressedName("photo.gif"))
	assert.Equal(t, "photo-compressed.gif", compressedName("/some/dir/photo.gif"))
	assert.Equal(t, "raw-compressed.gif", compressedName("raw"))
	assert.Equal(t, "clip-compressed.GIF", compressedName("clip.GIF"))
}

func TestUniqueName(t *testing.T) {
	seen := map[string]int{}
	assert.Equal(t, "x-compressed.gif", uniqueName(seen, "x-compressed.gif"))
	assert.Equal(t, "x-compressed-1.gif", uniqueName(seen, "x-compressed.gif"))
	assert.Equal(t, "x-compressed-2.gif", uniqueName(seen, "x-compressed.gif"))
	assert.Equal(t, "y-compressed.gif", uniqueName(seen, "y-compressed.gif"))
}
