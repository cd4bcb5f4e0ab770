package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub is the redis-backed event bus used for cross-instance
// presence synchronisation. The underlying client is shared with other
// redis consumers (the history page cache) via GetClient.
type RedisPubSub struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// NewRedisPubSub connects and verifies the connection with a ping.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisPubSub{
		client: client,
		subs:   make(map[string]*redis.PubSub),
	}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a channel subscription. The returned channel closes when
// the context is cancelled or Unsubscribe is called. Malformed envelopes are
// skipped; a full consumer drops the message rather than blocking the reader.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	r.mu.Lock()
	sub := r.client.Subscribe(ctx, channel)
	r.subs[channel] = sub
	r.mu.Unlock()

	out := make(chan *Event, 100)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- &event:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisPubSub) Unsubscribe(channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[channel]; ok {
		delete(r.subs, channel)
		return sub.Close()
	}
	return nil
}

func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		sub.Close()
	}
	r.subs = make(map[string]*redis.PubSub)
	return r.client.Close()
}

// GetClient exposes the underlying client for direct key operations.
func (r *RedisPubSub) GetClient() *redis.Client {
	return r.client
}
