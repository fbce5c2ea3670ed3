package store

import (
	"context"

	"github.com/threadline/threadline/internal/models"
)

// CachedStore wraps a DataStore with read-through Redis caching for the
// hot thread lookups the matcher ladder performs on every inbound
// email. Conversation id and tracking id mappings never change once a
// thread exists, so stale entries cannot occur.
type CachedStore struct {
	DataStore
	redis *RedisStore
}

// NewCachedStore wraps the store. A nil redis store yields a plain
// passthrough.
func NewCachedStore(inner DataStore, redis *RedisStore) *CachedStore {
	return &CachedStore{DataStore: inner, redis: redis}
}

// ThreadByConversationID consults the cache before the database.
func (s *CachedStore) ThreadByConversationID(ctx context.Context, conversationID string) (*models.Thread, error) {
	if s.redis == nil || conversationID == "" {
		return s.DataStore.ThreadByConversationID(ctx, conversationID)
	}

	key := conversationKey(conversationID)
	if id := s.redis.CachedThreadID(ctx, key); id != "" {
		if thread, err := s.DataStore.ThreadByID(ctx, id); err == nil && thread != nil {
			return thread, nil
		}
	}

	thread, err := s.DataStore.ThreadByConversationID(ctx, conversationID)
	if err == nil && thread != nil {
		s.redis.CacheThreadID(ctx, key, thread.ID)
	}
	return thread, err
}

// ThreadByTrackingID consults the cache before the database.
func (s *CachedStore) ThreadByTrackingID(ctx context.Context, trackingID string) (*models.Thread, error) {
	if s.redis == nil || trackingID == "" {
		return s.DataStore.ThreadByTrackingID(ctx, trackingID)
	}

	key := trackingKey(trackingID)
	if id := s.redis.CachedThreadID(ctx, key); id != "" {
		if thread, err := s.DataStore.ThreadByID(ctx, id); err == nil && thread != nil {
			return thread, nil
		}
	}

	thread, err := s.DataStore.ThreadByTrackingID(ctx, trackingID)
	if err == nil && thread != nil {
		s.redis.CacheThreadID(ctx, key, thread.ID)
	}
	return thread, err
}
