package cache

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResponseCache(t *testing.T, opts ...Option) (*ResponseCache, *MemoryStore, *DiskStore) {
	t.Helper()

	memory, err := NewMemoryStore(100)
	require.NoError(t, err)
	disk := NewDiskStore(memfs.New(), "responses", zerolog.Nop())

	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	c := NewResponseCache(memory, disk, opts...)
	t.Cleanup(func() { c.Close() })
	return c, memory, disk
}

func fetchSync(t *testing.T, c *ResponseCache, key CacheKey) (Payload, error) {
	t.Helper()

	type result struct {
		payload Payload
		err     error
	}
	ch := make(chan result, 1)
	c.Fetch(key, func(p Payload, err error) {
		ch <- result{p, err}
	})

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not complete")
		return nil, nil
	}
}

func TestNewResponseCache_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewResponseCache should panic with nil tiers")
		}
	}()
	NewResponseCache(nil, nil)
}

func TestResponseCache_RoundTripMemory(t *testing.T) {
	c, _, _ := newTestResponseCache(t)
	key := CacheKey{Method: "GET", Path: "/videos/1", ResultType: "Video"}

	payload := Payload{
		"id":       1,
		"name":     "clip",
		"metadata": map[string]any{"connections": map[string]any{"likes": []any{"a", 2, true}}},
	}
	c.Store(key, payload)

	got, err := fetchSync(t, c, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestResponseCache_MemoryHitIsSynchronous(t *testing.T) {
	c, _, _ := newTestResponseCache(t)
	key := CacheKey{Method: "GET", Path: "/me"}
	c.Store(key, Payload{"uri": "/users/1"})

	called := false
	c.Fetch(key, func(p Payload, err error) {
		called = true
	})
	assert.True(t, called)
}

func TestResponseCache_DiskFallback(t *testing.T) {
	c, memory, _ := newTestResponseCache(t)
	key := CacheKey{Method: "GET", Path: "/me"}

	c.Store(key, Payload{"uri": "/users/1"})
	c.Flush()
	memory.Clear()

	got, err := fetchSync(t, c, key)
	require.NoError(t, err)
	assert.Equal(t, "/users/1", got["uri"])

	// no promotion by default
	_, ok := memory.Get(key.String())
	assert.False(t, ok)
}

func TestResponseCache_DiskHitCallbackMayFlush(t *testing.T) {
	c, memory, _ := newTestResponseCache(t)
	key := CacheKey{Method: "GET", Path: "/me"}

	c.Store(key, Payload{"uri": "/users/1"})
	c.Flush()
	memory.Clear()

	done := make(chan struct{})
	c.Fetch(key, func(p Payload, err error) {
		assert.NoError(t, err)
		c.Flush()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Flush inside a fetch callback deadlocked")
	}
}

func TestResponseCache_DiskPromotion(t *testing.T) {
	c, memory, _ := newTestResponseCache(t, WithDiskPromotion(true))
	key := CacheKey{Method: "GET", Path: "/me"}

	c.Store(key, Payload{"uri": "/users/1"})
	c.Flush()
	memory.Clear()

	_, err := fetchSync(t, c, key)
	require.NoError(t, err)

	_, ok := memory.Get(key.String())
	assert.True(t, ok)
}

func TestResponseCache_Miss(t *testing.T) {
	c, _, _ := newTestResponseCache(t)

	_, err := fetchSync(t, c, CacheKey{Method: "GET", Path: "/nothing"})
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestResponseCache_CorruptIsNotMiss(t *testing.T) {
	fs := memfs.New()
	memory, err := NewMemoryStore(10)
	require.NoError(t, err)
	disk := NewDiskStore(fs, "responses", zerolog.Nop())
	c := NewResponseCache(memory, disk, WithLogger(zerolog.Nop()))
	defer c.Close()

	key := CacheKey{Method: "GET", Path: "/me"}
	require.NoError(t, fs.MkdirAll("responses", 0o755))
	require.NoError(t, util.WriteFile(fs, disk.path(key.String()), []byte("\x00\x01"), 0o644))

	_, err = fetchSync(t, c, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptEntry)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestResponseCache_EvictScenario(t *testing.T) {
	c, _, _ := newTestResponseCache(t)
	key := CacheKey{Method: "GET", Path: "/videos/1", ResultType: "Video"}

	c.Store(key, Payload{"id": 1})
	got, err := fetchSync(t, c, key)
	require.NoError(t, err)
	assert.Equal(t, Payload{"id": 1}, got)

	c.Evict(key)
	c.Evict(key)

	_, err = fetchSync(t, c, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestResponseCache_ClearIdempotent(t *testing.T) {
	c, memory, _ := newTestResponseCache(t)
	keys := []CacheKey{
		{Method: "GET", Path: "/a"},
		{Method: "GET", Path: "/b"},
	}
	for _, k := range keys {
		c.Store(k, Payload{"path": k.Path})
	}

	c.Clear()
	c.Clear()

	assert.Equal(t, 0, memory.Len())
	for _, k := range keys {
		_, err := fetchSync(t, c, k)
		assert.ErrorIs(t, err, ErrCacheMiss)
	}
}
