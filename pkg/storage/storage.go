package storage

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Uploader stores an image and returns its public URL. It is the boundary to
// the object store: the submission flow only ever sees the resolved URL.
type Uploader interface {
	Upload(filename string, content io.Reader) (string, error)
}

// DiskStore is an Uploader backed by a local directory served over HTTP.
type DiskStore struct {
	dir     string
	baseURL string
}

// Config holds object store settings.
type Config struct {
	Dir     string // directory objects are written to
	BaseURL string // public prefix the directory is served under, e.g. http://localhost:8080/uploads
}

// NewDiskStore creates a DiskStore, creating the upload directory if needed.
func NewDiskStore(cfg Config) (*DiskStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", cfg.Dir, err)
	}
	return &DiskStore{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Upload writes the content under a generated object key, keeping the
// original file extension, and returns the public URL of the object.
func (s *DiskStore) Upload(filename string, content io.Reader) (string, error) {
	key := uuid.New().String() + strings.ToLower(filepath.Ext(filename))

	dst, err := os.Create(filepath.Join(s.dir, key))
	if err != nil {
		return "", fmt.Errorf("failed to create object %s: %w", key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, content); err != nil {
		// Remove the partial object so a failed upload leaves nothing behind.
		if rmErr := os.Remove(dst.Name()); rmErr != nil {
			log.Printf("Failed to remove partial object %s: %v", key, rmErr)
		}
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}

	return s.baseURL + "/" + key, nil
}

// Dir returns the directory objects are written to, for static serving.
func (s *DiskStore) Dir() string {
	return s.dir
}
