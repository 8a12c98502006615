// Package dedup remembers which object an inbound message id resolved to. It is an advisory
// fast path in front of the conversation store; the unique message id index stays the
// authority.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// DefaultTTL is how long a processed message id is remembered.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "seen:"

// Index records processed message ids.
type Index interface {
	// Lookup returns the object a message id resolved to, if it was seen.
	Lookup(ctx context.Context, messageID string) (models.ObjectRef, bool, error)
	// Remember records the object for a message id. The first writer wins.
	Remember(ctx context.Context, messageID string, ref models.ObjectRef) error
}

// RedisClient is the subset of go-redis the index needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisIndex stores message id -> object records as JSON strings with a TTL.
type RedisIndex struct {
	rdb    RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisIndex creates an index under prefix. A zero ttl uses DefaultTTL.
func NewRedisIndex(rdb RedisClient, prefix string, ttl time.Duration) *RedisIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisIndex{rdb: rdb, prefix: prefix + keyPrefix, ttl: ttl}
}

func (r *RedisIndex) Lookup(ctx context.Context, messageID string) (models.ObjectRef, bool, error) {
	if messageID == "" {
		return models.ObjectRef{}, false, nil
	}
	raw, err := r.rdb.Get(ctx, r.prefix+messageID).Result()
	if errors.Is(err, redis.Nil) {
		return models.ObjectRef{}, false, nil
	}
	if err != nil {
		return models.ObjectRef{}, false, fmt.Errorf("dedup GET: %w", err)
	}
	var ref models.ObjectRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return models.ObjectRef{}, false, fmt.Errorf("dedup decode %s: %w", messageID, err)
	}
	return ref, !ref.IsZero(), nil
}

func (r *RedisIndex) Remember(ctx context.Context, messageID string, ref models.ObjectRef) error {
	if messageID == "" || ref.IsZero() {
		return nil
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	if err := r.rdb.SetNX(ctx, r.prefix+messageID, string(b), r.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SETNX: %w", err)
	}
	return nil
}

// MemoryIndex is the in-process Index used when redis is not configured.
// Expired records are dropped lazily on lookup.
type MemoryIndex struct {
	mu    sync.Mutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

type memoryItem struct {
	ref       models.ObjectRef
	expiresAt time.Time
}

func NewMemoryIndex(ttl time.Duration) *MemoryIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryIndex{items: make(map[string]memoryItem), ttl: ttl, now: time.Now}
}

func (m *MemoryIndex) Lookup(_ context.Context, messageID string) (models.ObjectRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[messageID]
	if !ok {
		return models.ObjectRef{}, false, nil
	}
	if m.now().After(it.expiresAt) {
		delete(m.items, messageID)
		return models.ObjectRef{}, false, nil
	}
	return it.ref, true, nil
}

func (m *MemoryIndex) Remember(_ context.Context, messageID string, ref models.ObjectRef) error {
	if messageID == "" || ref.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[messageID]; ok && m.now().Before(it.expiresAt) {
		return nil
	}
	m.items[messageID] = memoryItem{ref: ref, expiresAt: m.now().Add(m.ttl)}
	return nil
}
