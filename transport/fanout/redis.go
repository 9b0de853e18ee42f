// Package fanout lets multiple cmd/server processes behind a load
// balancer broadcast to each other's locally-connected websockets, via
// Redis pub/sub. The core itself is unaware of this: section 1 only
// requires the host be told "broadcast this byte string"; fanout is how
// a multi-process deployment implements that broadcast.
package fanout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis publishes and subscribes to a single channel per document id,
// relaying messages between cmd/server processes that share a document.
type Redis struct {
	client  *redis.Client
	channel string
	sub     *redis.PubSub
}

// NewRedis connects to addr and subscribes to the channel for docID.
func NewRedis(ctx context.Context, addr, docID string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("fanout: connecting to redis at %s: %w", addr, err)
	}
	channel := "inkline:doc:" + docID
	return &Redis{client: client, channel: channel, sub: client.Subscribe(ctx, channel)}, nil
}

// Publish broadcasts data to every other server process subscribed to
// this document's channel.
func (r *Redis) Publish(ctx context.Context, data []byte) error {
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("fanout: publishing: %w", err)
	}
	return nil
}

// Messages returns a channel of payloads received from other server
// processes. The channel is closed when the subscription is closed.
func (r *Redis) Messages() <-chan []byte {
	out := make(chan []byte)
	raw := r.sub.Channel()
	go func() {
		defer close(out)
		for msg := range raw {
			out <- []byte(msg.Payload)
		}
	}()
	return out
}

// Close closes the subscription and the underlying client.
func (r *Redis) Close() error {
	if err := r.sub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
