package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FilesystemBackend stores each file under basePath/<id[0:2]>/<id[2:4]>/<id> with a
// JSON sidecar <id>.meta holding the reference.
type FilesystemBackend struct {
	basePath string
}

// NewFilesystemBackend creates a new filesystem storage backend
func NewFilesystemBackend(basePath string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &FilesystemBackend{basePath: basePath}, nil
}

func (f *FilesystemBackend) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid file id %q: %w", id, ErrNotFound)
	}
	return filepath.Join(f.basePath, id[0:2], id[2:4], id), nil
}

// Store writes the content and its metadata sidecar.
func (f *FilesystemBackend) Store(ctx context.Context, content *FileContent) (*Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	filePath, _ := f.path(id)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	ref := &Reference{
		ID:          id,
		Backend:     "FS",
		Location:    filePath,
		Name:        content.Name,
		ContentType: content.ContentType,
		Size:        int64(len(content.Data)),
		Checksum:    checksum(content.Data),
		Created:     createdAt(content),
	}

	if err := os.WriteFile(filePath, content.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	meta, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filePath+".meta", meta, 0644); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	return ref, nil
}

// Retrieve reads the file and its metadata.
func (f *FilesystemBackend) Retrieve(_ context.Context, id string) (*FileContent, error) {
	filePath, err := f.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	content := &FileContent{Size: int64(len(data)), Data: data}
	var ref Reference
	if raw, err := os.ReadFile(filePath + ".meta"); err == nil && json.Unmarshal(raw, &ref) == nil {
		content.Name = ref.Name
		content.ContentType = ref.ContentType
		content.Created = ref.Created
	}
	return content, nil
}

func (f *FilesystemBackend) Delete(_ context.Context, id string) error {
	filePath, err := f.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	_ = os.Remove(filePath + ".meta")
	return nil
}

func (f *FilesystemBackend) Exists(_ context.Context, id string) (bool, error) {
	filePath, err := f.path(id)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (f *FilesystemBackend) GetInfo() *BackendInfo {
	info := &BackendInfo{Name: "Filesystem", Type: "FS"}
	_ = filepath.WalkDir(f.basePath, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) == ".meta" {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			info.Files++
			info.Bytes += fi.Size()
		}
		return nil
	})
	return info
}

// HealthCheck verifies the base path is writable.
func (f *FilesystemBackend) HealthCheck(context.Context) error {
	marker := filepath.Join(f.basePath, fmt.Sprintf(".health_%d", time.Now().UnixNano()))
	if err := os.WriteFile(marker, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("filesystem base path is not writable: %w", err)
	}
	return os.Remove(marker)
}
