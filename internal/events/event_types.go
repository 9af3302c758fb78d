package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated  EventType = "ticket_created"
	EventTicketUpdated  EventType = "ticket_updated"
	EventTicketsCleared EventType = "tickets_cleared"
)

// Event is a ticket change notification. Ticket is nil for
// EventTicketsCleared.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TicketID  string         `json:"ticket_id,omitempty"`
	Origin    string         `json:"origin"`
	Timestamp time.Time      `json:"timestamp"`
	Ticket    *domain.Ticket `json:"ticket,omitempty"`

	// Remote is set by the Listener on events that arrived from another
	// execution context. It is never serialized.
	Remote bool `json:"-"`
}

// TicketCreated builds a creation event carrying a copy of the ticket.
func TicketCreated(ticket *domain.Ticket) Event {
	return Event{Type: EventTicketCreated, TicketID: ticket.ID, Ticket: ticket.Clone()}
}

// TicketUpdated builds an update event carrying a copy of the ticket.
func TicketUpdated(ticket *domain.Ticket) Event {
	return Event{Type: EventTicketUpdated, TicketID: ticket.ID, Ticket: ticket.Clone()}
}

// TicketsCleared builds the collection-cleared event.
func TicketsCleared() Event {
	return Event{Type: EventTicketsCleared}
}

// Encode serializes an event for the cross-process channel.
func Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// Decode parses a serialized event, reconstructing its timestamps.
func Decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch event.Type {
	case EventTicketCreated, EventTicketUpdated:
		if event.Ticket == nil {
			return Event{}, fmt.Errorf("decode event %s: missing ticket", event.ID)
		}
		if event.TicketID == "" {
			event.TicketID = event.Ticket.ID
		}
	case EventTicketsCleared:
	default:
		return Event{}, fmt.Errorf("decode event %s: unknown type %q", event.ID, event.Type)
	}
	return event, nil
}
