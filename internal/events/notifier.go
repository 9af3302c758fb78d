package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier fans a ticket change out to the writer's own context
// synchronously and to every other context through the Broadcaster.
type Notifier struct {
	dispatcher  Dispatcher
	broadcaster Broadcaster
	origin      string
	logger      *zap.Logger
	now         func() time.Time
}

// NotifierDependencies bundles notifier collaborators.
type NotifierDependencies struct {
	Dispatcher  Dispatcher
	Broadcaster Broadcaster
	// Origin identifies this execution context; generated when empty.
	Origin string
	Logger *zap.Logger
}

// NewNotifier constructs a notifier. Broadcaster may be nil for a
// single-context deployment.
func NewNotifier(deps NotifierDependencies) *Notifier {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origin := deps.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	return &Notifier{
		dispatcher:  deps.Dispatcher,
		broadcaster: deps.Broadcaster,
		origin:      origin,
		logger:      logger,
		now:         time.Now,
	}
}

// Origin returns the identifier stamped on every event this notifier sends.
func (n *Notifier) Origin() string {
	return n.origin
}

// Notify delivers the event locally, then publishes it to other contexts.
// Broadcast failures are logged, not returned.
func (n *Notifier) Notify(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = n.now()
	}
	event.Origin = n.origin
	event.Remote = false

	if n.dispatcher != nil {
		_ = n.dispatcher.Publish(ctx, event)
	}
	if n.broadcaster == nil {
		return
	}
	payload, err := Encode(event)
	if err != nil {
		n.logger.Error("encode ticket event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	if err := n.broadcaster.Broadcast(ctx, payload); err != nil {
		n.logger.Warn("broadcast ticket event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
