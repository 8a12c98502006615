package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when no file exists for an identifier.
var ErrNotFound = errors.New("storage: file not found")

// Backend stores attachment bytes keyed by an identifier the backend assigns.
type Backend interface {
	// Store persists the content and returns its reference. The reference ID is a UUID.
	Store(ctx context.Context, content *FileContent) (*Reference, error)

	// Retrieve loads the content for an identifier.
	Retrieve(ctx context.Context, id string) (*FileContent, error)

	// Delete removes the content for an identifier.
	Delete(ctx context.Context, id string) error

	// Exists checks if content exists for an identifier.
	Exists(ctx context.Context, id string) (bool, error)

	// GetInfo returns backend information
	GetInfo() *BackendInfo

	// HealthCheck verifies backend is operational
	HealthCheck(ctx context.Context) error
}

// FileContent is the content handed to a backend.
type FileContent struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
	Metadata    map[string]string
	Created     time.Time
}

// Reference points to stored content.
type Reference struct {
	ID          string    `json:"id"`
	Backend     string    `json:"backend"`
	Location    string    `json:"location"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	Created     time.Time `json:"created"`
}

// BackendInfo provides information about a storage backend
type BackendInfo struct {
	Name  string
	Type  string
	Files int64
	Bytes int64
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func createdAt(c *FileContent) time.Time {
	if c.Created.IsZero() {
		return time.Now().UTC()
	}
	return c.Created
}
