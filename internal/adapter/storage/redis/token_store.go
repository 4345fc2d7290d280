package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ap2-payments/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// TokenStore persists agent tokens and payment-method tokens as JSON with
// TTL, so expiry is enforced by Redis itself.
type TokenStore struct {
	client *goredis.Client
	prefix string
}

// NewTokenStore creates a Redis-backed token store.
func NewTokenStore(client *goredis.Client) *TokenStore {
	return &TokenStore{client: client, prefix: "token:"}
}

// Save stores token data with TTL.
func (s *TokenStore) Save(ctx context.Context, token string, data ports.AgentTokenData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding token data: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+token, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis token save: %w", err)
	}
	return nil
}

// Get returns nil when the token is absent or expired.
func (s *TokenStore) Get(ctx context.Context, token string) (*ports.AgentTokenData, error) {
	raw, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis token get: %w", err)
	}
	var data ports.AgentTokenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding token data: %w", err)
	}
	return &data, nil
}

// Delete removes a token.
func (s *TokenStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.prefix+token).Err(); err != nil {
		return fmt.Errorf("redis token delete: %w", err)
	}
	return nil
}
