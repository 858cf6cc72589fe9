package cache

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCorruptEntry indicates a stored record could not be decoded
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// ResponseCache composes the memory and disk tiers behind one API keyed by
// request fingerprint.
type ResponseCache struct {
	memory  *MemoryStore
	disk    *DiskStore
	promote bool
	logger  zerolog.Logger
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithDiskPromotion copies disk hits into the memory tier.
func WithDiskPromotion(enabled bool) Option {
	return func(c *ResponseCache) {
		c.promote = enabled
	}
}

// WithLogger sets the logger used for cache events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *ResponseCache) {
		c.logger = logger
	}
}

// NewResponseCache creates a response cache over the given tiers.
func NewResponseCache(memory *MemoryStore, disk *DiskStore, opts ...Option) *ResponseCache {
	if memory == nil || disk == nil {
		panic("cache tiers cannot be nil")
	}

	c := &ResponseCache{
		memory: memory,
		disk:   disk,
		logger: log.With().Str("component", "response-cache").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store writes payload to the memory tier and enqueues the disk write.
func (c *ResponseCache) Store(key CacheKey, payload Payload) {
	k := key.String()
	c.memory.Set(k, payload)
	c.disk.Write(k, payload)

	c.logger.Debug().Str("key", k).Msg("Stored response")
}

// Fetch looks key up and calls done with the payload, ErrCacheMiss, or an
// error for a failed or corrupt read. A memory hit calls done before Fetch
// returns; otherwise done runs on a disk queue goroutine.
func (c *ResponseCache) Fetch(key CacheKey, done func(Payload, error)) {
	k := key.String()

	if payload, ok := c.memory.Get(k); ok {
		CacheHits.WithLabelValues(layerMemory).Inc()
		c.logger.Debug().Str("key", k).Str("layer", layerMemory).Msg("Cache hit")
		done(payload, nil)
		return
	}

	c.disk.Read(k, func(payload Payload, err error) {
		switch {
		case err == nil:
			CacheHits.WithLabelValues(layerDisk).Inc()
			c.logger.Debug().Str("key", k).Str("layer", layerDisk).Msg("Cache hit")
			if c.promote {
				c.memory.Set(k, payload)
			}
			done(payload, nil)
		case errors.Is(err, ErrCacheMiss):
			CacheMisses.Inc()
			c.logger.Debug().Str("key", k).Msg("Cache miss")
			done(nil, ErrCacheMiss)
		default:
			c.logger.Warn().Err(err).Str("key", k).Msg("Cache read failed")
			done(nil, fmt.Errorf("disk cache read: %w", err))
		}
	})
}

// Evict removes key from both tiers. Evicting an absent key is a no-op.
func (c *ResponseCache) Evict(key CacheKey) {
	k := key.String()
	c.memory.Remove(k)
	c.disk.Remove(k)

	c.logger.Debug().Str("key", k).Msg("Evicted response")
}

// Clear purges both tiers.
func (c *ResponseCache) Clear() {
	c.memory.Clear()
	c.disk.Clear()

	c.logger.Info().Msg("Cleared response cache")
}

// Flush waits for pending disk operations.
func (c *ResponseCache) Flush() {
	c.disk.Flush()
}

// Close drains pending disk operations and stops the disk queue.
func (c *ResponseCache) Close() error {
	return c.disk.Close()
}
