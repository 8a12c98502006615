package ticketnumber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]int64)}
}

func (m *MemoryStore) Add(ctx context.Context, key string, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("ticketnumber: offset must be positive")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] += offset
	return m.counters[key], nil
}

// RedisClient is the subset of go-redis used by RedisStore.
type RedisClient interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisStore increments counters with INCRBY. Day scoped keys expire after two days.
type RedisStore struct {
	client RedisClient
	prefix string
}

func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Add(ctx context.Context, key string, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("ticketnumber: offset must be positive")
	}
	full := r.prefix + "ticket_counter:" + key
	c, err := r.client.IncrBy(ctx, full, offset).Result()
	if err != nil {
		return 0, fmt.Errorf("ticket counter %s: %w", key, err)
	}
	if c == offset && strings.Contains(key, "_") {
		if err := r.client.Expire(ctx, full, 48*time.Hour).Err(); err != nil {
			return 0, fmt.Errorf("ticket counter %s expire: %w", key, err)
		}
	}
	return c, nil
}

// NewCounterStore builds the configured counter store: "db", "redis" or "memory".
func NewCounterStore(kind string, db *sqlx.DB, rdb RedisClient, prefix string) (CounterStore, error) {
	switch strings.ToLower(kind) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "db", "sql":
		if db == nil {
			return nil, errors.New("ticketnumber: db counter store requires a database")
		}
		return NewDBStore(db), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("ticketnumber: redis counter store requires redis")
		}
		return NewRedisStore(rdb, prefix), nil
	default:
		return nil, fmt.Errorf("ticketnumber: unknown counter store %q", kind)
	}
}
