package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// recorder collects events delivered to a handler.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) len() int {
	return len(r.snapshot())
}

// clientContext is one simulated tab: its own dispatcher, notifier and listener.
type clientContext struct {
	dispatcher Dispatcher
	notifier   *Notifier
	listener   *Listener
}

func newClientContext(t *testing.T, bus Broadcaster, callbacks Callbacks) *clientContext {
	t.Helper()
	dispatcher := NewInMemoryDispatcher(zap.NewNop())
	notifier := NewNotifier(NotifierDependencies{Dispatcher: dispatcher, Broadcaster: bus})
	listener := NewListener(ListenerDependencies{
		Dispatcher:  dispatcher,
		Broadcaster: bus,
		Origin:      notifier.Origin(),
	}, callbacks)
	require.NoError(t, listener.StartListening(context.Background()))
	t.Cleanup(listener.StopListening)
	return &clientContext{dispatcher: dispatcher, notifier: notifier, listener: listener}
}

func sampleTicket(id string) *domain.Ticket {
	claimed := time.Date(2026, 10, 16, 9, 30, 0, 123456789, time.UTC)
	return &domain.Ticket{
		ID:                 id,
		Status:             domain.TicketStatusInProgress,
		Summary:            "printer on fire",
		ProblemDescription: "printer on fire",
		CreatedBy:          domain.ProfileRef{ID: "C1"},
		AssignedTo:         &domain.ProfileRef{ID: "E1"},
		CreatedAt:          claimed.Add(-time.Hour),
		ClaimedAt:          &claimed,
		Version:            2,
	}
}

func TestEncodeDecodeRestoresTimestamps(t *testing.T) {
	ticket := sampleTicket("t-1")
	event := TicketUpdated(ticket)
	event.ID = "e-1"
	event.Origin = "tab-a"
	event.Timestamp = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

	payload, err := Encode(event)
	require.NoError(t, err)
	decoded, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, EventTicketUpdated, decoded.Type)
	assert.Equal(t, "t-1", decoded.TicketID)
	require.NotNil(t, decoded.Ticket.ClaimedAt)
	assert.True(t, ticket.ClaimedAt.Equal(*decoded.Ticket.ClaimedAt))
	assert.True(t, event.Timestamp.Equal(decoded.Timestamp))
	assert.False(t, decoded.Remote)
}

func TestDecodeRejectsMalformedEvents(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"id":"e","type":"ticket_updated"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"id":"e","type":"ticket_exploded"}`))
	assert.Error(t, err)

	cleared, err := Decode([]byte(`{"id":"e","type":"tickets_cleared"}`))
	require.NoError(t, err)
	assert.Equal(t, EventTicketsCleared, cleared.Type)
}

func TestDispatcherIsolatesFailingHandlers(t *testing.T) {
	dispatcher := NewInMemoryDispatcher(zap.NewNop())
	var after recorder

	dispatcher.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		return errors.New("subscriber bug")
	})
	dispatcher.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		panic("subscriber panic")
	})
	dispatcher.Subscribe(EventTicketCreated, after.handle)

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, TicketCreated(sampleTicket("t-1"))))
	require.NoError(t, dispatcher.Publish(ctx, TicketCreated(sampleTicket("t-2"))))

	got := after.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "t-1", got[0].TicketID)
	assert.Equal(t, "t-2", got[1].TicketID)
}

func TestDispatcherUnsubscribe(t *testing.T) {
	dispatcher := NewInMemoryDispatcher(nil)
	var typed, all recorder

	typedSub := dispatcher.Subscribe(EventTicketUpdated, typed.handle)
	dispatcher.SubscribeAll(all.handle)

	ctx := context.Background()
	_ = dispatcher.Publish(ctx, TicketUpdated(sampleTicket("t-1")))
	dispatcher.Unsubscribe(typedSub)
	dispatcher.Unsubscribe(Subscription(999))
	_ = dispatcher.Publish(ctx, TicketUpdated(sampleTicket("t-1")))
	_ = dispatcher.Publish(ctx, TicketsCleared())

	assert.Equal(t, 1, typed.len())
	assert.Equal(t, 3, all.len())
}

func TestNotifierDeliversLocallyBeforeReturning(t *testing.T) {
	bus := NewMemoryBus()
	var local recorder
	writer := newClientContext(t, bus, Callbacks{OnCreated: local.handle})

	writer.notifier.Notify(context.Background(), TicketCreated(sampleTicket("t-1")))

	got := local.snapshot()
	require.Len(t, got, 1)
	assert.False(t, got[0].Remote)
	assert.Equal(t, writer.notifier.Origin(), got[0].Origin)
	assert.NotEmpty(t, got[0].ID)
}

func TestListenerReceivesEventsFromOtherContexts(t *testing.T) {
	bus := NewMemoryBus()
	var writerSeen, readerSeen recorder
	writer := newClientContext(t, bus, Callbacks{OnUpdated: writerSeen.handle})
	newClientContext(t, bus, Callbacks{OnUpdated: readerSeen.handle, OnCleared: readerSeen.handle})

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		ticket := sampleTicket("t-1")
		ticket.Version = int64(i)
		writer.notifier.Notify(ctx, TicketUpdated(ticket))
	}
	writer.notifier.Notify(ctx, TicketsCleared())

	require.Eventually(t, func() bool { return readerSeen.len() == 4 }, time.Second, 5*time.Millisecond)
	got := readerSeen.snapshot()
	for i := 0; i < 3; i++ {
		assert.True(t, got[i].Remote)
		assert.Equal(t, int64(i+1), got[i].Ticket.Version, "same-key events arrive in write order")
	}
	assert.Equal(t, EventTicketsCleared, got[3].Type)

	// the writer's own events are not delivered twice
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, writerSeen.len())
}

func TestListenerRemoteHookRunsBeforeDispatch(t *testing.T) {
	bus := NewMemoryBus()
	writer := newClientContext(t, bus, Callbacks{})

	var mu sync.Mutex
	var order []string
	dispatcher := NewInMemoryDispatcher(nil)
	listener := NewListener(ListenerDependencies{
		Dispatcher:  dispatcher,
		Broadcaster: bus,
		Origin:      "reader",
		OnRemoteChange: func(context.Context, Event) {
			mu.Lock()
			order = append(order, "hook")
			mu.Unlock()
		},
	}, Callbacks{OnCreated: func(context.Context, Event) error {
		mu.Lock()
		order = append(order, "callback")
		mu.Unlock()
		return nil
	}})
	require.NoError(t, listener.StartListening(context.Background()))
	defer listener.StopListening()

	writer.notifier.Notify(context.Background(), TicketCreated(sampleTicket("t-9")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hook", "callback"}, order)
}

func TestListenerUpdateCallbacksKeepsListening(t *testing.T) {
	bus := NewMemoryBus()
	var first, second recorder
	writer := newClientContext(t, bus, Callbacks{})
	reader := newClientContext(t, bus, Callbacks{OnCreated: first.handle})

	ctx := context.Background()
	writer.notifier.Notify(ctx, TicketCreated(sampleTicket("t-1")))
	require.Eventually(t, func() bool { return first.len() == 1 }, time.Second, 5*time.Millisecond)

	reader.listener.UpdateCallbacks(Callbacks{OnCreated: second.handle})
	assert.True(t, reader.listener.IsListening())

	writer.notifier.Notify(ctx, TicketCreated(sampleTicket("t-2")))
	require.Eventually(t, func() bool { return second.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, first.len())
}

func TestListenerStartStopAreIdempotent(t *testing.T) {
	bus := NewMemoryBus()
	var seen recorder
	writer := newClientContext(t, bus, Callbacks{})
	dispatcher := NewInMemoryDispatcher(nil)
	listener := NewListener(ListenerDependencies{Dispatcher: dispatcher, Broadcaster: bus, Origin: "reader"},
		Callbacks{OnCreated: seen.handle})

	ctx := context.Background()
	require.NoError(t, listener.StartListening(ctx))
	require.NoError(t, listener.StartListening(ctx))
	listener.StopListening()
	listener.StopListening()
	assert.False(t, listener.IsListening())

	writer.notifier.Notify(ctx, TicketCreated(sampleTicket("t-1")))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, seen.len())

	require.NoError(t, listener.StartListening(ctx))
	defer listener.StopListening()
	writer.notifier.Notify(ctx, TicketCreated(sampleTicket("t-2")))
	require.Eventually(t, func() bool { return seen.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestListenerSkipsInvalidPayloads(t *testing.T) {
	bus := NewMemoryBus()
	var seen recorder
	newClientContext(t, bus, Callbacks{OnCreated: seen.handle})

	ctx := context.Background()
	require.NoError(t, bus.Broadcast(ctx, []byte(`{broken`)))
	payload, err := Encode(Event{ID: "e", Type: EventTicketCreated, Origin: "other", Ticket: sampleTicket("t-3")})
	require.NoError(t, err)
	require.NoError(t, bus.Broadcast(ctx, payload))

	require.Eventually(t, func() bool { return seen.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestListenerResyncsAfterSubscriptionRestored(t *testing.T) {
	client := newFakeMQTTClient()
	transport := NewMQTTBroadcaster(client, "ticket-events", nil)
	writer := NewNotifier(NotifierDependencies{
		Dispatcher:  NewInMemoryDispatcher(nil),
		Broadcaster: NewMQTTBroadcaster(client, "ticket-events", nil),
	})

	var seen recorder
	var resyncs atomic.Int32
	listener := NewListener(ListenerDependencies{
		Dispatcher:  NewInMemoryDispatcher(nil),
		Broadcaster: transport,
		Origin:      "reader",
		OnResync:    func(context.Context) { resyncs.Add(1) },
	}, Callbacks{OnCreated: seen.handle})
	require.NoError(t, listener.StartListening(context.Background()))
	defer listener.StopListening()

	// a clean-session reconnect loses the subscription until it is restored
	client.dropSession()
	writer.Notify(context.Background(), TicketCreated(sampleTicket("t-lost")))
	transport.Resubscribe()

	require.Eventually(t, func() bool { return resyncs.Load() == 1 }, time.Second, 5*time.Millisecond)
	writer.Notify(context.Background(), TicketCreated(sampleTicket("t-after")))
	require.Eventually(t, func() bool { return seen.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "t-after", seen.snapshot()[0].TicketID)
}
