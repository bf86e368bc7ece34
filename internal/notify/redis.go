package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/spyglass/pkg/api/spyglass"
)

const redisDialTimeout = 5 * time.Second

// RedisPublisher fans notifications out over Redis pub/sub. The topic maps
// one-to-one to a Redis channel, so subscribers filter by tenant or video by
// choosing which channel to subscribe to.
type RedisPublisher struct {
	client goredis.UniversalClient
}

// NewRedisPublisher connects from a redis:// URL and verifies the connection
// with a ping.
func NewRedisPublisher(ctx context.Context, redisURL string) (*RedisPublisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = redisDialTimeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// NewRedisPublisherWithClient wraps an existing client. Used by tests and by
// callers that share a connection.
func NewRedisPublisherWithClient(client goredis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, n spyglass.LiveViewNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := p.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
