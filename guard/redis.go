package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// counterTTL keeps day counters alive long enough to cover clock
// drift between writers before Redis reclaims them.
const counterTTL = 48 * time.Hour

// RedisClient is the subset of redis.Cmdable the store uses.
// *redis.Client and *redis.ClusterClient both satisfy it.
type RedisClient interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisStore is a CounterStore over Redis, letting several wallet
// processes share one spending budget.
type RedisStore struct {
	client RedisClient
	logger *slog.Logger
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{client: client, logger: slog.Default()}
}

// Add implements CounterStore via INCRBY. The key's TTL refreshes on
// every touch so stale day counters expire on their own.
func (s *RedisStore) Add(ctx context.Context, key string, delta int64) (int64, error) {
	total, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}
	// The counter is already updated; a TTL failure only delays
	// expiry, so it must not fail the claim.
	if err := s.client.Expire(ctx, key, counterTTL).Err(); err != nil {
		s.logger.Warn("failed to refresh spend counter TTL", "key", key, "error", err)
	}
	return total, nil
}
