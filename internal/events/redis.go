package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultStreamKey = "jetswap:swap-status"

// RedisStream publishes status events to a Redis stream so dashboards
// and other processes can tail them.
type RedisStream struct {
	client *redis.Client
	key    string
	maxLen int64
}

type RedisOption func(*RedisStream)

// WithStreamKey overrides the stream key.
func WithStreamKey(key string) RedisOption {
	return func(r *RedisStream) { r.key = key }
}

// WithMaxLen caps the stream length (approximate trim).
func WithMaxLen(n int64) RedisOption {
	return func(r *RedisStream) { r.maxLen = n }
}

func NewRedisStream(url string, opts ...RedisOption) (*RedisStream, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(parsed)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	r := &RedisStream{client: client, key: DefaultStreamKey, maxLen: 10000}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RedisStream) Publish(ctx context.Context, event StatusEvent) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.key,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"swap_id": event.SwapID.String(),
			"user_id": event.UserID,
			"from":    string(event.From),
			"to":      string(event.To),
			"at":      event.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisStream) Close() error {
	return r.client.Close()
}
