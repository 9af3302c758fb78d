package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroadcaster publishes events over a Redis Pub/Sub channel.
type RedisBroadcaster struct {
	client      *redis.Client
	channel     string
	logger      *zap.Logger
	resubscribe resubscribeSignal
}

// NewRedisBroadcaster binds a broadcaster to one channel.
func NewRedisBroadcaster(client *redis.Client, channel string, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, channel: channel, logger: logger}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe listens on the channel until cancel is called, which also
// closes the returned channel. go-redis restores the subscription after a
// dropped connection; each restore is reported on Resubscribed.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("subscribed to redis channel", zap.String("channel", b.channel))

	out := make(chan []byte, memoryBusBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.ChannelWithSubscriptions() {
			switch msg := msg.(type) {
			case *redis.Subscription:
				if msg.Kind == "subscribe" {
					b.logger.Info("redis channel resubscribed", zap.String("channel", b.channel))
					b.resubscribe.notify()
				}
			case *redis.Message:
				select {
				case out <- []byte(msg.Payload):
				default:
					b.logger.Warn("dropping ticket event, consumer too slow", zap.String("channel", b.channel))
				}
			}
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
	}
	return out, cancel, nil
}

func (b *RedisBroadcaster) Resubscribed() <-chan struct{} {
	return b.resubscribe.channel()
}
