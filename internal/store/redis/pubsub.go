package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	subscriberBuffer    = 256
	healthCheckInterval = 15 * time.Second
)

// PubSub is the change bus between producers and realtime servers.
type PubSub struct {
	client *redis.Client
}

// New connects to addr and verifies the connection with a ping.
func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// Subscribe streams the payloads published on channel. The stream closes
// when cleanup runs; go-redis reconnects underneath and health-checks the
// connection in the meantime.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: %s: %w", channel, err)
	}

	msgs := sub.Channel(
		redis.WithChannelSize(subscriberBuffer),
		redis.WithChannelHealthCheckInterval(healthCheckInterval),
	)

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range msgs {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

const defaultNamespace = "boardsync"

// ChangesChannel returns the Redis channel carrying row mutations from
// producers to realtime servers.
func ChangesChannel(namespace string) string {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return namespace + ":changes"
}
