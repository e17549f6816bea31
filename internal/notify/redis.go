package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"custodyledger/pkg/domain"
)

// publisher is the subset of *redis.Client used by RedisSink.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink PUBLISHes every event as JSON on one channel.
type RedisSink struct {
	client  publisher
	channel string
}

// NewRedisSink parses url, connects and pings.
func NewRedisSink(ctx context.Context, url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Name implements Sink.
func (r *RedisSink) Name() string { return "redis" }

// Publish implements Sink. Events go out one by one so subscribers see them
// in emission order.
func (r *RedisSink) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", e.Kind, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
