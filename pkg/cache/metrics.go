package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache layers used as metric labels.
const (
	layerMemory = "memory"
	layerDisk   = "disk"
)

var (
	// CacheHits tracks cache hits by layer (memory, disk)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks lookups that found no record in any layer
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiclient_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheEvictions tracks records dropped from a layer
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_cache_evictions_total",
			Help: "Total number of records removed from a cache layer",
		},
		[]string{"layer"},
	)

	// CacheWriteBytes tracks bytes written to the disk layer
	CacheWriteBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiclient_cache_write_bytes_total",
			Help: "Total number of bytes written to the disk cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "read", "write", "remove", "clear"
	)
)
