package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Subscription identifies a registered handler.
type Subscription uint64

// Dispatcher interface allows event publication/subscription within one
// execution context.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) Subscription
	SubscribeAll(handler EventHandler) Subscription
	Unsubscribe(sub Subscription)
}

type registration struct {
	id        Subscription
	eventType EventType
	all       bool
	handler   EventHandler
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	nextID    Subscription
	listeners []registration
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{logger: logger}
}

// Publish synchronously invokes handlers for the given event in
// registration order. A failing or panicking handler is logged and does
// not stop delivery to the others.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := make([]registration, 0, len(d.listeners))
	for _, reg := range d.listeners {
		if reg.all || reg.eventType == event.Type {
			handlers = append(handlers, reg)
		}
	}
	d.mu.RUnlock()

	for _, reg := range handlers {
		if err := d.invoke(ctx, reg.handler, event); err != nil {
			d.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Uint64("subscription", uint64(reg.id)),
				zap.Error(err))
		}
	}
	return nil
}

func (d *inMemoryDispatcher) invoke(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) Subscription {
	return d.add(registration{eventType: eventType, handler: handler})
}

// SubscribeAll registers a handler for every event type.
func (d *inMemoryDispatcher) SubscribeAll(handler EventHandler) Subscription {
	return d.add(registration{all: true, handler: handler})
}

func (d *inMemoryDispatcher) add(reg registration) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	reg.id = d.nextID
	d.listeners = append(d.listeners, reg)
	return reg.id
}

// Unsubscribe removes a handler; unknown subscriptions are ignored.
func (d *inMemoryDispatcher) Unsubscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, reg := range d.listeners {
		if reg.id == sub {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}
