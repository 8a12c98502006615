package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

type fakeRedis struct {
	data map[string]string
	ttl  map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	f.ttl[key] = ttl
	return redis.NewBoolResult(true, nil)
}

var ticket7 = models.ObjectRef{Type: models.ObjectTicket, ID: 7, Number: "100007"}

func TestRedisIndex(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	idx := NewRedisIndex(fake, "intake:", 0)

	_, seen, err := idx.Lookup(ctx, "<a@x>")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, idx.Remember(ctx, "<a@x>", ticket7))
	assert.Equal(t, DefaultTTL, fake.ttl["intake:seen:<a@x>"])

	ref, seen, err := idx.Lookup(ctx, "<a@x>")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, ticket7, ref)

	t.Run("first writer wins", func(t *testing.T) {
		other := models.ObjectRef{Type: models.ObjectTicket, ID: 8}
		require.NoError(t, idx.Remember(ctx, "<a@x>", other))
		ref, _, _ := idx.Lookup(ctx, "<a@x>")
		assert.Equal(t, ticket7, ref)
	})

	t.Run("empty ids are ignored", func(t *testing.T) {
		require.NoError(t, idx.Remember(ctx, "", ticket7))
		_, seen, err := idx.Lookup(ctx, "")
		assert.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("corrupt record", func(t *testing.T) {
		fake.data["intake:seen:<bad@x>"] = "{not json"
		_, _, err := idx.Lookup(ctx, "<bad@x>")
		assert.Error(t, err)
	})

	t.Run("redis errors surface", func(t *testing.T) {
		fake.err = errors.New("connection refused")
		defer func() { fake.err = nil }()
		_, _, err := idx.Lookup(ctx, "<a@x>")
		assert.ErrorContains(t, err, "dedup GET")
		assert.ErrorContains(t, idx.Remember(ctx, "<c@x>", ticket7), "dedup SETNX")
	})
}

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx.now = func() time.Time { return now }

	require.NoError(t, idx.Remember(ctx, "<a@x>", ticket7))
	ref, seen, err := idx.Lookup(ctx, "<a@x>")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, ticket7, ref)

	require.NoError(t, idx.Remember(ctx, "<a@x>", models.ObjectRef{Type: models.ObjectTicket, ID: 9}))
	ref, _, _ = idx.Lookup(ctx, "<a@x>")
	assert.Equal(t, int64(7), ref.ID)

	now = now.Add(2 * time.Hour)
	_, seen, _ = idx.Lookup(ctx, "<a@x>")
	assert.False(t, seen)

	require.NoError(t, idx.Remember(ctx, "<z@x>", models.ObjectRef{}))
	_, seen, _ = idx.Lookup(ctx, "<z@x>")
	assert.False(t, seen)
}
