package relay

import (
	"context"
	"fmt"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/go-redis/redis/v8"
)

const DefaultRedisChannel = "livepoll:events"

type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes envelopes on a pub/sub channel. The client is shared
// with other components, so Close leaves it open.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{
		client:  client,
		channel: channel,
	}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, ev domain.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

func (s *RedisSink) Close() error { return nil }
