package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{done: done, err: err}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

// fakeMQTTClient routes publishes straight to the registered handlers.
type fakeMQTTClient struct {
	mqtt.Client

	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	subscribes   int
	unsubscribed []string
	subscribeErr error
	hang         bool
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeMQTTClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()
	if handler != nil {
		handler(c, fakeMessage{payload: payload.([]byte)})
	}
	return completedToken(nil)
}

func (c *fakeMQTTClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hang {
		return &fakeToken{done: make(chan struct{})}
	}
	if c.subscribeErr != nil {
		return completedToken(c.subscribeErr)
	}
	c.subscribes++
	c.handlers[topic] = callback
	return completedToken(nil)
}

func (c *fakeMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	c.unsubscribed = append(c.unsubscribed, topics...)
	return completedToken(nil)
}

// dropSession forgets every subscription, as a clean-session reconnect does.
func (c *fakeMQTTClient) dropSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[string]mqtt.MessageHandler)
}

func receivePayload(t *testing.T, feed <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-feed:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("no payload received")
		return nil
	}
}

func TestMQTTBroadcasterDeliversPayloads(t *testing.T) {
	client := newFakeMQTTClient()
	b := NewMQTTBroadcaster(client, "ticket-events", nil)
	ctx := context.Background()

	feed, cancel, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Broadcast(ctx, []byte(`{"type":"ticket.created"}`)))
	assert.Equal(t, `{"type":"ticket.created"}`, string(receivePayload(t, feed)))
}

func TestMQTTBroadcasterDropsWhenConsumerIsSlow(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	client := newFakeMQTTClient()
	b := NewMQTTBroadcaster(client, "ticket-events", zap.New(core))
	ctx := context.Background()

	feed, cancel, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < memoryBusBuffer+5; i++ {
		require.NoError(t, b.Broadcast(ctx, []byte("payload")))
	}
	assert.Len(t, feed, memoryBusBuffer)
	assert.Equal(t, 5, logs.FilterMessage("dropping ticket event, consumer too slow").Len())
}

func TestMQTTBroadcasterSubscribeErrors(t *testing.T) {
	client := newFakeMQTTClient()
	client.subscribeErr = errors.New("not authorized")
	b := NewMQTTBroadcaster(client, "ticket-events", nil)

	feed, cancel, err := b.Subscribe(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, client.subscribeErr)
	assert.Contains(t, err.Error(), "mqtt subscribe ticket-events")
	assert.Nil(t, feed)
	assert.Nil(t, cancel)

	client.subscribeErr = nil
	client.hang = true
	ctx, stop := context.WithCancel(context.Background())
	stop()
	_, _, err = b.Subscribe(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	b.timeout = 20 * time.Millisecond
	_, _, err = b.Subscribe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for broker")
}

func TestMQTTBroadcasterCancelUnsubscribes(t *testing.T) {
	client := newFakeMQTTClient()
	b := NewMQTTBroadcaster(client, "ticket-events", nil)
	ctx := context.Background()

	feed, cancel, err := b.Subscribe(ctx)
	require.NoError(t, err)
	cancel()
	cancel()
	assert.Equal(t, []string{"ticket-events"}, client.unsubscribed)

	require.NoError(t, b.Broadcast(ctx, []byte("late")))
	assert.Empty(t, feed)

	// nothing to restore once cancelled
	b.Resubscribe()
	assert.Equal(t, 1, client.subscribes)
	select {
	case <-b.Resubscribed():
		t.Fatal("unexpected resubscribe signal")
	default:
	}
}

func TestMQTTBroadcasterResubscribeAfterReconnect(t *testing.T) {
	client := newFakeMQTTClient()
	b := NewMQTTBroadcaster(client, "ticket-events", nil)
	ctx := context.Background()

	feed, cancel, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	client.dropSession()
	require.NoError(t, b.Broadcast(ctx, []byte("lost")))
	assert.Empty(t, feed)

	b.Resubscribe()
	select {
	case <-b.Resubscribed():
	case <-time.After(time.Second):
		t.Fatal("no resubscribe signal")
	}
	require.NoError(t, b.Broadcast(ctx, []byte("after")))
	assert.Equal(t, "after", string(receivePayload(t, feed)))
	assert.Equal(t, 2, client.subscribes)
}
