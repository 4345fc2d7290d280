package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayCache implements ports.ReplayStore using Redis SET NX. One cache
// serves A2A message ids, JWT jtis and KB nonces; callers namespace their
// keys.
type ReplayCache struct {
	client *goredis.Client
	prefix string
}

// NewReplayCache creates a Redis-backed replay cache.
func NewReplayCache(client *goredis.Client) *ReplayCache {
	return &ReplayCache{client: client, prefix: "replay:"}
}

// Consume atomically records the key. Returns true if the key is fresh,
// false if it was already consumed within its TTL.
func (c *ReplayCache) Consume(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis replay consume: %w", err)
	}
	return ok, nil
}
