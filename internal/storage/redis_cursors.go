package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/redis/go-redis/v9"
)

const defaultRedisCursorPrefix = "mentions:cursor"

// RedisCursorStore keeps cursors as plain string keys in Redis
type RedisCursorStore struct {
	client *redis.Client
	prefix string
}

var _ CursorRepository = (*RedisCursorStore)(nil)

// NewRedisCursorStore connects to the Redis server at redisURL
func NewRedisCursorStore(ctx context.Context, redisURL string) (*RedisCursorStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCursorStore{client: client, prefix: defaultRedisCursorPrefix}, nil
}

// NewRedisCursorStoreWithClient wraps an existing client
func NewRedisCursorStoreWithClient(client *redis.Client) *RedisCursorStore {
	return &RedisCursorStore{client: client, prefix: defaultRedisCursorPrefix}
}

func (s *RedisCursorStore) key(key models.CursorKey) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, key.OwnerID, key.Platform, key.Scope)
}

// Get implements CursorRepository
func (s *RedisCursorStore) Get(ctx context.Context, key models.CursorKey) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cursor: %w", err)
	}
	return value, true, nil
}

// Set implements CursorRepository
func (s *RedisCursorStore) Set(ctx context.Context, key models.CursorKey, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool
func (s *RedisCursorStore) Close() error {
	return s.client.Close()
}
