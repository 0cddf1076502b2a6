package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const analyticsKeyPrefix = "analytics"

// AnalyticsView names a cached derived view
type AnalyticsView string

const (
	ViewBalanceGroups AnalyticsView = "groups"
	ViewDuplicates    AnalyticsView = "duplicates"
	ViewDailyFlow     AnalyticsView = "flow"
	ViewSignal        AnalyticsView = "signal"
	ViewSummary       AnalyticsView = "summary"
)

// AnalyticsCache caches derived views keyed by the scan they were computed from.
// A new scan changes the key, so entries never outlive the state they describe.
type AnalyticsCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewAnalyticsCache creates a new analytics cache
func NewAnalyticsCache(redis *RedisCache, ttl time.Duration) *AnalyticsCache {
	return &AnalyticsCache{
		redis: redis,
		ttl:   ttl,
	}
}

// Key builds the cache key: analytics:<view>:<scanID>[:<params>...]
func (c *AnalyticsCache) Key(view AnalyticsView, scanID string, params ...string) string {
	parts := append([]string{analyticsKeyPrefix, string(view), scanID}, params...)
	return strings.Join(parts, ":")
}

// Get loads a cached view into dest. A miss returns false without error.
func (c *AnalyticsCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set stores a view with the configured TTL
func (c *AnalyticsCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl)
}

// PurgeExcept deletes cached views of every scan other than keepScanID
func (c *AnalyticsCache) PurgeExcept(ctx context.Context, keepScanID string) (int, error) {
	keys, err := c.redis.ScanKeys(ctx, analyticsKeyPrefix+":*")
	if err != nil {
		return 0, fmt.Errorf("failed to list cached views: %w", err)
	}

	var stale []string
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 4)
		if len(parts) >= 3 && parts[2] != keepScanID {
			stale = append(stale, key)
		}
	}

	if err := c.redis.Del(ctx, stale...); err != nil {
		return 0, fmt.Errorf("failed to delete stale views: %w", err)
	}
	return len(stale), nil
}

// TTL returns the configured TTL
func (c *AnalyticsCache) TTL() time.Duration {
	return c.ttl
}
