package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ChallengeStore holds single-use WebAuthn challenges with per-entry TTL.
type ChallengeStore struct {
	client *goredis.Client
	prefix string
}

// NewChallengeStore creates a Redis-backed challenge store.
func NewChallengeStore(client *goredis.Client) *ChallengeStore {
	return &ChallengeStore{client: client, prefix: "challenge:"}
}

// Put stores a challenge under id.
func (s *ChallengeStore) Put(ctx context.Context, id string, challenge string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+id, challenge, ttl).Err(); err != nil {
		return fmt.Errorf("redis challenge put: %w", err)
	}
	return nil
}

// Take retrieves and deletes a challenge. Returns "" when absent or
// already consumed.
func (s *ChallengeStore) Take(ctx context.Context, id string) (string, error) {
	val, err := s.client.GetDel(ctx, s.prefix+id).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("redis challenge take: %w", err)
	}
	return val, nil
}
