// Package redis is the shared cache/pub-sub layer of §6.2: price mirroring,
// the prices/alerts/alert-updates channels, and TTL'd keys (price:{symbol}).
// No component in this module reads those keys back. Grounded on the
// teacher's internal/store/redis/writer.go (pipelined SET+PUBLISH) and
// reader.go (Subscribe loop), generalized away from candle-specific
// payloads to the raw []byte envelope model.PubSub names.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"cryptoalertd/internal/model"
)

// Config configures the Redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client adapts go-redis to model.PubSub.
type Client struct {
	rdb *redis.Client
	log *slog.Logger
}

// New dials Redis. The connection is lazy (go-redis dials on first use);
// callers that want a fail-fast startup should PING immediately after.
func New(cfg Config, log *slog.Logger) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb, log: log}
}

// Ping verifies connectivity, used at startup the way the teacher's
// mdengine checks its Redis dependency before serving traffic.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Raw exposes the underlying go-redis client for components (the
// liveness checker) that need the concrete type rather than the model.PubSub
// port.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Publish satisfies model.PubSub.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe satisfies model.PubSub: returns a channel of deliveries and an
// unsubscribe func, mirroring the teacher's reader.go Subscribe-loop shape
// adapted from PSubscribe-per-stream to a flat multi-channel Subscribe.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (<-chan model.Message, func() error) {
	sub := c.rdb.Subscribe(ctx, channels...)
	out := make(chan model.Message, 256)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- model.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					if c.log != nil {
						c.log.Warn("redis: subscriber channel full, dropping message", "channel", msg.Channel)
					}
				}
			}
		}
	}()

	return out, sub.Close
}

// SetWithTTL satisfies model.PubSub; the Price Cache writes the
// price:{symbol} "last known price" key through it (§6.2).
func (c *Client) SetWithTTL(ctx context.Context, key string, value []byte, ttlMs int64) error {
	if err := c.rdb.Set(ctx, key, value, time.Duration(ttlMs)*time.Millisecond).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Get satisfies model.PubSub.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, true, nil
}

// Close satisfies model.PubSub.
func (c *Client) Close() error {
	return c.rdb.Close()
}
