package handlers

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const (
	defaultKeepAlive    = 15 * time.Second
	clientBufferSize    = 64
	sseContentType      = "text/event-stream"
	sseKeepAliveComment = ": keep-alive\n\n"
)

// EventsHandler streams ticket events to UI clients as Server-Sent Events.
// Every stream is its own subscriber on the process dispatcher, which
// carries both local writes and events republished from other processes.
// Customer streams only carry events about their own tickets.
type EventsHandler struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	keepAlive  time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEventsHandler constructs handler. keepAlive <= 0 uses 15s.
func NewEventsHandler(dispatcher events.Dispatcher, logger *zap.Logger, keepAlive time.Duration) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &EventsHandler{dispatcher: dispatcher, logger: logger, keepAlive: keepAlive, closed: make(chan struct{})}
}

// Close ends every open stream.
func (h *EventsHandler) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// Stream GET /events.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	profile, ok := auth.ProfileFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	c.Set(fiber.HeaderContentType, sseContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	feed, cancel := h.subscribe(profile)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		h.stream(w, feed, cancel)
	})
	return nil
}

func (h *EventsHandler) subscribe(profile domain.Profile) (<-chan events.Event, func()) {
	feed := make(chan events.Event, clientBufferSize)
	sub := h.dispatcher.SubscribeAll(func(_ context.Context, event events.Event) error {
		if !visibleTo(profile, event) {
			return nil
		}
		select {
		case feed <- event:
		default:
			h.logger.Warn("sse client too slow, dropping ticket event",
				zap.String("event_id", event.ID), zap.String("ticket_id", event.TicketID))
		}
		return nil
	})
	return feed, func() { h.dispatcher.Unsubscribe(sub) }
}

func visibleTo(profile domain.Profile, event events.Event) bool {
	customer, ok := profile.(domain.CustomerProfile)
	if !ok || event.Type == events.EventTicketsCleared {
		return true
	}
	return event.Ticket != nil && event.Ticket.CreatedBy.ID == customer.ID
}

// stream writes events until the client goes away or the handler closes.
func (h *EventsHandler) stream(w *bufio.Writer, feed <-chan events.Event, cancel func()) {
	defer cancel()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	if _, err := w.WriteString(": connected\n\n"); err != nil || w.Flush() != nil {
		return
	}
	for {
		select {
		case <-h.closed:
			return
		case event := <-feed:
			if err := writeEvent(w, event); err != nil {
				h.logger.Debug("sse write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if _, err := w.WriteString(sseKeepAliveComment); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w *bufio.Writer, event events.Event) error {
	payload, err := events.Encode(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload)
	return err
}
