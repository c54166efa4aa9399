// Redis-backed hook sink. When an operator configures a Redis address,
// settlement and escrow hooks are also published to a Redis channel so
// out-of-process consumers (billing, audit) can observe them.
package events

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes hook events to a Redis pub/sub channel. Publish
// failures are logged and dropped; hook delivery never blocks or fails a
// protocol handler.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects a sink to the given Redis address and channel.
func NewRedisSink(addr, channel string) *RedisSink {
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

// Emit publishes the event asynchronously.
func (s *RedisSink) Emit(eventType, subject string, data map[string]any) {
	event := NewEvent(eventType, subject, data)
	payload, err := event.JSON()
	if err != nil {
		slog.Warn("redis sink: marshal event failed", "type", eventType, "error", err)
		return
	}

	go func() {
		if err := s.client.Publish(context.Background(), s.channel, payload).Err(); err != nil {
			slog.Warn("redis sink: publish failed", "type", eventType, "error", err)
		}
	}()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
