package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Callbacks is the set of handlers a Listener invokes. Nil entries are
// skipped.
type Callbacks struct {
	OnCreated EventHandler
	OnUpdated EventHandler
	OnCleared EventHandler
}

func (c *Callbacks) handlerFor(eventType EventType) EventHandler {
	if c == nil {
		return nil
	}
	switch eventType {
	case EventTicketCreated:
		return c.OnCreated
	case EventTicketUpdated:
		return c.OnUpdated
	case EventTicketsCleared:
		return c.OnCleared
	default:
		return nil
	}
}

// Listener bridges one execution context to the cross-process channel.
// While listening it runs a read loop that decodes events from other
// contexts and republishes them on the local Dispatcher, and it delivers
// every event (local or remote) to its current Callbacks.
//
// Run at most one Listener per Dispatcher, otherwise remote events are
// republished more than once.
type Listener struct {
	dispatcher  Dispatcher
	broadcaster Broadcaster
	origin      string
	logger      *zap.Logger
	onRemote    func(context.Context, Event)
	onResync    func(context.Context)

	callbacks atomic.Pointer[Callbacks]

	mu        sync.Mutex
	listening bool
	sub       Subscription
	cancel    context.CancelFunc
	done      chan struct{}
}

// ListenerDependencies bundles listener collaborators.
type ListenerDependencies struct {
	Dispatcher  Dispatcher
	Broadcaster Broadcaster
	// Origin must match the local Notifier's origin so the context's own
	// writes are not delivered twice.
	Origin string
	Logger *zap.Logger
	// OnRemoteChange runs before remote events are dispatched, e.g. to
	// resynchronize a cached store view.
	OnRemoteChange func(context.Context, Event)
	// OnResync runs after the transport restores a dropped subscription,
	// when remote events may have been missed.
	OnResync func(context.Context)
}

// NewListener constructs an idle listener.
func NewListener(deps ListenerDependencies, callbacks Callbacks) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		dispatcher:  deps.Dispatcher,
		broadcaster: deps.Broadcaster,
		origin:      deps.Origin,
		logger:      logger,
		onRemote:    deps.OnRemoteChange,
		onResync:    deps.OnResync,
	}
	l.callbacks.Store(&callbacks)
	return l
}

// UpdateCallbacks swaps the callback set without interrupting listening.
func (l *Listener) UpdateCallbacks(callbacks Callbacks) {
	l.callbacks.Store(&callbacks)
}

// IsListening reports whether the listener is active.
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// StartListening subscribes locally and starts the remote read loop.
// Calling it while already listening is a no-op.
func (l *Listener) StartListening(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listening {
		return nil
	}

	var (
		remote      <-chan []byte
		resync      <-chan struct{}
		unsubscribe func()
	)
	if l.broadcaster != nil {
		ch, cancel, err := l.broadcaster.Subscribe(ctx)
		if err != nil {
			return err
		}
		remote, unsubscribe = ch, cancel
		if r, ok := l.broadcaster.(Resubscriber); ok {
			resync = r.Resubscribed()
		}
	}

	l.sub = l.dispatcher.SubscribeAll(l.deliver)
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.done = make(chan struct{})
	l.listening = true

	go l.readLoop(loopCtx, remote, resync, unsubscribe, l.done)
	return nil
}

// StopListening stops the read loop and the local subscription. Calling
// it while not listening is a no-op.
func (l *Listener) StopListening() {
	l.mu.Lock()
	if !l.listening {
		l.mu.Unlock()
		return
	}
	l.listening = false
	l.dispatcher.Unsubscribe(l.sub)
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *Listener) deliver(ctx context.Context, event Event) error {
	handler := l.callbacks.Load().handlerFor(event.Type)
	if handler == nil {
		return nil
	}
	return handler(ctx, event)
}

func (l *Listener) readLoop(ctx context.Context, remote <-chan []byte, resync <-chan struct{}, unsubscribe func(), done chan struct{}) {
	defer close(done)
	if unsubscribe != nil {
		defer unsubscribe()
	}
	if remote == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-remote:
			if !ok {
				l.logger.Warn("ticket event channel closed")
				return
			}
			l.handlePayload(ctx, payload)
		case <-resync:
			l.logger.Info("ticket event subscription restored, resynchronizing")
			if l.onResync != nil {
				l.onResync(ctx)
			}
		}
	}
}

func (l *Listener) handlePayload(ctx context.Context, payload []byte) {
	event, err := Decode(payload)
	if err != nil {
		l.logger.Warn("invalid ticket event payload", zap.Error(err))
		return
	}
	if event.Origin == l.origin {
		return
	}
	event.Remote = true
	if l.onRemote != nil {
		l.onRemote(ctx, event)
	}
	_ = l.dispatcher.Publish(ctx, event)
}
