package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// PageCache stores encoded history pages keyed by query shape.
type PageCache interface {
	BuildKey(roomID, cursor string, limit int) string
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, page *Response, ttl time.Duration) error
	Close() error
}

// RedisPageCache caches history pages in Redis. Only cursor-addressed pages
// are cached; the latest page changes on every send and is always fetched
// fresh.
type RedisPageCache struct {
	client *redis.Client
	prefix string
}

func NewRedisPageCache(client *redis.Client, prefix string) *RedisPageCache {
	return &RedisPageCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisPageCache) BuildKey(roomID, cursor string, limit int) string {
	return fmt.Sprintf("%s:%s:%s:%d", c.prefix, roomID, cursor, limit)
}

func (c *RedisPageCache) Get(ctx context.Context, key string) (*Response, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var page Response
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached page: %w", err)
	}
	return &page, nil
}

func (c *RedisPageCache) Set(ctx context.Context, key string, page *Response, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisPageCache) Close() error {
	return c.client.Close()
}

var _ PageCache = (*RedisPageCache)(nil)
