package cache

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSnapshotCache stores condition snapshots as JSON with a TTL.
type RedisSnapshotCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisSnapshotCache(client redis.Cmdable) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, prefix: "conditions:"}
}

func (c *RedisSnapshotCache) Get(ctx context.Context, key string) (domain.ConditionSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ConditionSnapshot{}, false, nil
	}
	if err != nil {
		return domain.ConditionSnapshot{}, false, fmt.Errorf("snapshot cache get %q: %w", key, err)
	}

	var snap domain.ConditionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.ConditionSnapshot{}, false, fmt.Errorf("snapshot cache decode %q: %w", key, err)
	}
	return snap, true, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, key string, snap domain.ConditionSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot cache encode %q: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("snapshot cache set %q: %w", key, err)
	}
	return nil
}
