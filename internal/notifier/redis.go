package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/suspectuso/usdt-tracker/internal/reconcile"
)

// Redis publishes events as JSON on a pub/sub channel
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis creates a Redis sink from a redis:// URL
func NewRedis(url, channel string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opt), channel), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

// Ping checks the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Notify(ctx context.Context, ev reconcile.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
