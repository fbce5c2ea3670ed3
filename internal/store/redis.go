package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Conversation id and tracking id mappings are immutable once set, so a
// generous TTL is safe.
const threadLookupTTL = 24 * time.Hour

// RedisStore handles Redis operations for thread lookup caching and
// rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that needs raw
// Redis access.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// conversationKey returns the key mapping a provider conversation id to
// a thread id.
func conversationKey(conversationID string) string {
	return fmt.Sprintf("thread:conv:%s", conversationID)
}

// trackingKey returns the key mapping a tracking id to a thread id.
func trackingKey(trackingID string) string {
	return fmt.Sprintf("thread:track:%s", trackingID)
}

// CachedThreadID returns the thread id cached for the key, or "" on a
// miss. Cache errors degrade to a miss.
func (s *RedisStore) CachedThreadID(ctx context.Context, key string) string {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return ""
	}
	return val
}

// CacheThreadID stores a lookup-key to thread-id mapping.
func (s *RedisStore) CacheThreadID(ctx context.Context, key, threadID string) {
	s.client.Set(ctx, key, threadID, threadLookupTTL)
}
