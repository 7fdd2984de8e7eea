package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// cacheHits is a Prometheus counter for cache hits
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "The total number of cache hits",
		},
		[]string{"prefix"},
	)
	// cacheMisses is a Prometheus counter for cache misses
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "The total number of cache misses",
		},
		[]string{"prefix"},
	)
	// cacheDuration is a Prometheus histogram for cache operation duration
	cacheDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "The duration of cache operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"prefix", "operation"},
	)
)

// init registers Prometheus metrics
func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheDuration)
}

// Cache defines the cache interface. The kernel only ever has one
// in-process implementation (BigCache) — there is no distributed cache
// backend in scope, since the kernel persists nothing across requests.
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}
