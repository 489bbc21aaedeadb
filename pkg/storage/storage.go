// Package storage keeps the original statement documents that were imported.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no file exists for an ID
var ErrNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	SHA256      string    `json:"sha256"`
	Path        string    `json:"path"` // Internal storage path
	CreatedAt   time.Time `json:"created_at"`
}

// Storage defines the interface for file storage operations
type Storage interface {
	// Save stores a file and returns its metadata
	Save(ctx context.Context, filename string, contentType string, r io.Reader) (*FileInfo, error)

	// Open returns a reader for a stored file
	Open(ctx context.Context, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error)

	// Stat returns metadata for a file without opening it
	Stat(ctx context.Context, fileID uuid.UUID) (*FileInfo, error)

	// Delete removes a file by its ID
	Delete(ctx context.Context, fileID uuid.UUID) error
}
