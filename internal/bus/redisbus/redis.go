// Package redisbus implements bus.Bus on Redis pub/sub.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fenggwsx/SlashRelay/internal/bus"
)

// Bus publishes room events on a single Redis channel.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *slog.Logger
}

// Options configures the Redis connection.
type Options struct {
	Addr    string
	DB      int
	Channel string
	Logger  *slog.Logger
}

// New connects to redis and verifies connectivity.
func New(ctx context.Context, opts Options) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, opts.Channel, opts.Logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, channel string, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{rdb: rdb, channel: channel, origin: bus.NewOrigin(), log: log}
}

// Publish sends payload for roomID to every other instance.
func (b *Bus) Publish(ctx context.Context, roomID string, payload []byte) error {
	raw, err := bus.Encode(b.origin, roomID, payload)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe listens on the channel and invokes deliver for remote events.
func (b *Bus) Subscribe(ctx context.Context, deliver bus.DeliverFunc) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			evt, remote, err := bus.Decode(b.origin, []byte(msg.Payload))
			if err != nil {
				b.log.Warn("drop bus event", "err", err)
				continue
			}
			if remote {
				deliver(evt.RoomID, evt.Payload)
			}
		}
	}
}

// Close shuts down the redis connection.
func (b *Bus) Close() error { return b.rdb.Close() }

var _ bus.Bus = (*Bus)(nil)
