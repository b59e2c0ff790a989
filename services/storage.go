package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an artifact no longer exists on disk.
var ErrNotFound = errors.New("artifact not found")

// StorageService keeps original and compressed artifacts in two flat
// directories. Each artifact gets a fresh opaque name, so concurrent writers
// never collide and no locking is needed.
type StorageService struct {
	uploadDir string
	outputDir string
}

func NewStorageService(uploadDir, outputDir string) (*StorageService, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return &StorageService{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// SaveOriginal streams an uploaded file to the upload directory under a fresh
// ID, preserving the source extension. Returns the final path and byte count.
func (s *StorageService) SaveOriginal(filename string, r io.Reader) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".gif"
	}
	path := filepath.Join(s.uploadDir, uuid.New().String()+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, written, nil
}

// OutputPath reserves a fresh path in the output directory for a compressed
// artifact. The tool writes it; the job record references it only afterwards.
func (s *StorageService) OutputPath() string {
	return filepath.Join(s.outputDir, uuid.New().String()+".gif")
}

// Open opens an artifact for reading. A missing file surfaces as ErrNotFound.
func (s *StorageService) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Size returns the on-disk size of an artifact.
func (s *StorageService) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes an artifact. Missing files are not an error: the reaper and
// job deletion are both best-effort against concurrent cleanup.
func (s *StorageService) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
