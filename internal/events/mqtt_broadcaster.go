package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const mqttQoS = 1

// MQTTBroadcaster publishes events on an MQTT topic.
type MQTTBroadcaster struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	logger  *zap.Logger

	mu          sync.Mutex
	handler     mqtt.MessageHandler
	resubscribe resubscribeSignal
}

// NewMQTTBroadcaster binds a broadcaster to one topic.
func NewMQTTBroadcaster(client mqtt.Client, topic string, logger *zap.Logger) *MQTTBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTBroadcaster{client: client, topic: topic, timeout: 5 * time.Second, logger: logger}
}

func (b *MQTTBroadcaster) Broadcast(ctx context.Context, payload []byte) error {
	token := b.client.Publish(b.topic, mqttQoS, false, payload)
	if err := b.wait(ctx, token); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", b.topic, err)
	}
	return nil
}

// Subscribe registers the topic handler. Payloads arriving while the
// returned channel is full are dropped. The channel is never closed.
func (b *MQTTBroadcaster) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	out := make(chan []byte, memoryBusBuffer)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case out <- msg.Payload():
		default:
			b.logger.Warn("dropping ticket event, consumer too slow", zap.String("topic", b.topic))
		}
	}
	if err := b.wait(ctx, b.client.Subscribe(b.topic, mqttQoS, handler)); err != nil {
		return nil, nil, fmt.Errorf("mqtt subscribe %s: %w", b.topic, err)
	}
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	b.logger.Info("subscribed to mqtt topic", zap.String("topic", b.topic))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			b.handler = nil
			b.mu.Unlock()
			b.client.Unsubscribe(b.topic).WaitTimeout(b.timeout)
		})
	}
	return out, cancel, nil
}

// Resubscribe restores the active subscription after the client
// reconnects with a clean session. It does nothing when no subscription is
// active. Register it as an on-connect hook.
func (b *MQTTBroadcaster) Resubscribe() {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler == nil {
		return
	}
	if err := b.wait(context.Background(), b.client.Subscribe(b.topic, mqttQoS, handler)); err != nil {
		b.logger.Warn("mqtt resubscribe failed", zap.String("topic", b.topic), zap.Error(err))
		return
	}
	b.logger.Info("mqtt topic resubscribed", zap.String("topic", b.topic))
	b.resubscribe.notify()
}

func (b *MQTTBroadcaster) Resubscribed() <-chan struct{} {
	return b.resubscribe.channel()
}

func (b *MQTTBroadcaster) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.timeout):
		return errors.New("timed out waiting for broker")
	}
}
