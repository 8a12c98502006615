package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend keeps files in process memory. Used when no persistent backend is configured
// and in tests.
type MemoryBackend struct {
	mu    sync.RWMutex
	files map[string]*FileContent
	refs  map[string]*Reference
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		files: make(map[string]*FileContent),
		refs:  make(map[string]*Reference),
	}
}

func (m *MemoryBackend) Store(ctx context.Context, content *FileContent) (*Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	data := append([]byte(nil), content.Data...)
	ref := &Reference{
		ID:          id,
		Backend:     "memory",
		Location:    id,
		Name:        content.Name,
		ContentType: content.ContentType,
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		Created:     createdAt(content),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = &FileContent{
		Name:        content.Name,
		ContentType: content.ContentType,
		Size:        ref.Size,
		Data:        data,
		Metadata:    content.Metadata,
		Created:     ref.Created,
	}
	m.refs[id] = ref
	return ref, nil
}

func (m *MemoryBackend) Retrieve(_ context.Context, id string) (*FileContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Data = append([]byte(nil), c.Data...)
	return &cp, nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	delete(m.files, id)
	delete(m.refs, id)
	return nil
}

func (m *MemoryBackend) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[id]
	return ok, nil
}

func (m *MemoryBackend) GetInfo() *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := &BackendInfo{Name: "Memory", Type: "memory", Files: int64(len(m.files))}
	for _, f := range m.files {
		info.Bytes += f.Size
	}
	return info
}

func (m *MemoryBackend) HealthCheck(context.Context) error { return nil }
