package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans events out over Redis pub/sub so every api node can
// push them to its own websocket clients
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisPublisher connects to Redis
func NewRedisPublisher(addr, password string, db int, logger *slog.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{
		client: rdb,
		prefix: "bidhall_events:",
		logger: logger,
	}, nil
}

// Publish implements services.Publisher
func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	data, err := Encode(channel, event, payload)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.prefix+channel, data).Err()
}

// Relay subscribes to every event channel and hands each message to the local
// hub. It blocks until ctx is done.
func (p *RedisPublisher) Relay(ctx context.Context, hub *Hub) error {
	pubsub := p.client.PSubscribe(ctx, p.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to Redis events: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			channel, ok := relayChannel(p.prefix, msg.Channel)
			if !ok || !json.Valid([]byte(msg.Payload)) {
				p.logger.Warn("ignoring malformed relay message", "channel", msg.Channel)
				continue
			}
			if err := hub.Deliver(ctx, channel, []byte(msg.Payload)); err != nil {
				p.logger.Warn("failed to relay event", "channel", channel, "error", err)
			}
		}
	}
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// relayChannel strips the Redis prefix off a pub/sub channel name.
// Example: "bidhall_events:item:42" -> "item:42"
func relayChannel(prefix, redisChannel string) (string, bool) {
	if len(redisChannel) <= len(prefix) || redisChannel[:len(prefix)] != prefix {
		return "", false
	}
	return redisChannel[len(prefix):], true
}
