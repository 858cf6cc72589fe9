// Package cache provides the two-tier response cache used by the API client.
//
// Responses are stored as JSON object payloads keyed by a request fingerprint
// (CacheKey). The cache has two tiers:
//
// - Memory tier: a bounded LRU, synchronous, safe for concurrent use
// - Disk tier: one JSON record per key, behind a single FIFO queue
//
// On the disk tier, writes, removals and clears are barriers. Reads queued
// between two barriers run concurrently; a read queued after a write always
// observes that write.
//
// # Basic Usage
//
//	memory, err := cache.NewMemoryStore(cache.DefaultMemoryEntries)
//	if err != nil {
//		return err
//	}
//	disk := cache.OpenDiskStore("/var/cache/apiclient/responses", logger)
//
//	responses := cache.NewResponseCache(memory, disk)
//	defer responses.Close()
//
//	key := cache.CacheKey{
//		Method:     "GET",
//		Path:       "/videos/12345",
//		Params:     map[string]string{"fields": "name"},
//		ResultType: "model.Video",
//	}
//
//	responses.Store(key, cache.Payload{"name": "clip"})
//
//	responses.Fetch(key, func(payload cache.Payload, err error) {
//		if errors.Is(err, cache.ErrCacheMiss) {
//			// not cached
//		}
//	})
//
// A memory hit calls the completion before Fetch returns. Disk lookups
// complete on a queue goroutine. Disk hits are copied into the memory tier
// only when WithDiskPromotion(true) is set.
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - apiclient_cache_hits_total{layer} - Cache hits per tier
//   - apiclient_cache_misses_total - Lookups missing both tiers
//   - apiclient_cache_evictions_total{layer} - Records dropped per tier
//   - apiclient_cache_write_bytes_total - Bytes written to disk
//   - apiclient_cache_errors_total{operation} - Failed disk operations
package cache
