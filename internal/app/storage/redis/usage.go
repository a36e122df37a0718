// Package redis implements the usage counter store on redis, giving
// outbound rate limiting counters that survive process restarts and
// are shared across nodes.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tessera-social/app_platform/internal/app/storage"
)

// UsageStore keeps counters as redis keys with a bucket-scoped TTL.
type UsageStore struct {
	client *redis.Client
	prefix string
}

var _ storage.UsageStore = (*UsageStore)(nil)

// NewUsageStore wraps a redis client. prefix namespaces the keys so
// multiple platform deployments can share one redis.
func NewUsageStore(client *redis.Client, prefix string) *UsageStore {
	if prefix == "" {
		prefix = "usage"
	}
	return &UsageStore{client: client, prefix: prefix}
}

func (s *UsageStore) key(key string) string {
	return s.prefix + ":" + key
}

// IncrementUsage adds delta and returns the new value. The TTL is set
// only when the key is created, so every increment within a bucket
// shares the bucket's expiry.
func (s *UsageStore) IncrementUsage(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	k := s.key(key)
	value, err := s.client.IncrBy(ctx, k, delta).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		// NX keeps the original bucket expiry on subsequent increments.
		if err := s.client.ExpireNX(ctx, k, ttl).Err(); err != nil && err != redis.Nil {
			return value, err
		}
	}
	return value, nil
}

func (s *UsageStore) GetUsage(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// PruneUsage is a no-op: redis expires bucket keys by TTL.
func (s *UsageStore) PruneUsage(context.Context, time.Time) error { return nil }
