package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/vahti/internal/cache"
	"github.com/yairfalse/vahti/types"
)

// CachedMetrics caches metric series per resource and metric name so
// overlapping jobs and manual triggers within the TTL reuse one
// upstream query instead of hitting the provider again.
type CachedMetrics struct {
	source MetricsSource
	cache  *cache.Cache
	ttl    time.Duration
}

// NewCachedMetrics wraps source with a TTL cache.
func NewCachedMetrics(source MetricsSource, ttl time.Duration) *CachedMetrics {
	return &CachedMetrics{
		source: source,
		cache:  cache.New(),
		ttl:    ttl,
	}
}

// Query returns the cached series within TTL, populating via the
// wrapped source otherwise. Failed queries are not cached.
func (c *CachedMetrics) Query(ctx context.Context, resource types.Resource, metricName string, window time.Duration) ([]types.Datapoint, error) {
	key := fmt.Sprintf("metrics:%s:%s:%s", resource.ID, metricName, window)
	v, err := c.cache.GetOrPopulate(ctx, key, c.ttl, func(ctx context.Context) (any, error) {
		return c.source.Query(ctx, resource, metricName, window)
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Datapoint), nil
}

// Stats reports cache effectiveness.
func (c *CachedMetrics) Stats() cache.Stats {
	return c.cache.Snapshot()
}
