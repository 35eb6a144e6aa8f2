package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Unread hints are advisory only (chat-list badges); the store is
	// always authoritative on a miss. Short TTL keeps drift bounded.
	unreadHintTTL = 5 * time.Minute
)

// RedisStore handles Redis operations: rate-limit counters and the
// best-effort unread-count hint cache.
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

// Client exposes the underlying client for the rate-limit middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func unreadKey(chatID, userID uuid.UUID) string {
	return fmt.Sprintf("unread:%s:%s", chatID, userID)
}

// GetUnreadHint returns the cached unread count for (chat, user).
// The second return reports whether the hint was present.
func (s *RedisStore) GetUnreadHint(ctx context.Context, chatID, userID uuid.UUID) (int, bool, error) {
	n, err := s.client.Get(ctx, unreadKey(chatID, userID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// SetUnreadHint caches an unread count computed from the store.
func (s *RedisStore) SetUnreadHint(ctx context.Context, chatID, userID uuid.UUID, count int) error {
	return s.client.Set(ctx, unreadKey(chatID, userID), count, unreadHintTTL).Err()
}

// BumpUnreadHints increments cached counts for every recipient of a new
// message. Missing keys are left absent: incrementing an evicted hint
// would fabricate a count.
func (s *RedisStore) BumpUnreadHints(ctx context.Context, chatID, senderID uuid.UUID, participants []uuid.UUID) error {
	pipe := s.client.Pipeline()
	for _, userID := range participants {
		if userID == senderID {
			continue
		}
		key := unreadKey(chatID, userID)
		pipe.Eval(ctx, `
			if redis.call("EXISTS", KEYS[1]) == 1 then
				return redis.call("INCR", KEYS[1])
			end
			return 0
		`, []string{key})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DropUnreadHint invalidates the hint after a read-state change.
func (s *RedisStore) DropUnreadHint(ctx context.Context, chatID, userID uuid.UUID) error {
	return s.client.Del(ctx, unreadKey(chatID, userID)).Err()
}
