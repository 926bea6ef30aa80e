package revoked

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to the jti to form the Redis key.
const DefaultRedisPrefix = "blacklist:"

// RedisStore keeps the blacklist in Redis with one key per jti. Keys expire
// together with the token they revoke.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a blacklist in client. An empty prefix uses DefaultRedisPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Revoke stores jti until expiresAt. Tokens already expired are skipped.
func (s *RedisStore) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+jti, userID, ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti is blacklisted.
func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.client.Get(ctx, s.prefix+jti).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, fmt.Errorf("blacklist lookup: %w", err)
}
