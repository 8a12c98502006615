package storage

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-intake/internal/config"
)

// New creates the backend selected by the storage section. db may be nil unless the
// database backend is selected.
func New(cfg config.StorageConfig, db *sqlx.DB) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "fs":
		b, err := NewFilesystemBackend(cfg.FSPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem backend: %w", err)
		}
		return b, nil
	case "db":
		if db == nil {
			return nil, fmt.Errorf("database backend requires a database connection")
		}
		return NewDatabaseBackend(db), nil
	default:
		return nil, fmt.Errorf("unknown storage backend type: %s", cfg.Backend)
	}
}
