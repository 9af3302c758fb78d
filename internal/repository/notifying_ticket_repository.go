package repository

import (
	"context"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
)

// ChangeNotifier receives an event after every successful store write.
type ChangeNotifier interface {
	Notify(ctx context.Context, event events.Event)
}

// NotifyingTicketRepository signals a ChangeNotifier after each write that
// lands in the wrapped store. Reads pass through untouched.
type NotifyingTicketRepository struct {
	TicketRepository
	notifier ChangeNotifier
}

func NewNotifyingTicketRepository(inner TicketRepository, notifier ChangeNotifier) *NotifyingTicketRepository {
	return &NotifyingTicketRepository{TicketRepository: inner, notifier: notifier}
}

func (r *NotifyingTicketRepository) GetFresh(ctx context.Context, id string) (*domain.Ticket, bool, error) {
	return ReadFresh(ctx, r.TicketRepository, id)
}

func (r *NotifyingTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	created, err := r.TicketRepository.Create(ctx, ticket)
	if err != nil {
		return nil, err
	}
	r.notifier.Notify(ctx, events.TicketCreated(created))
	return created, nil
}

func (r *NotifyingTicketRepository) Update(ctx context.Context, id string, ticket *domain.Ticket) (*domain.Ticket, error) {
	updated, err := r.TicketRepository.Update(ctx, id, ticket)
	if err != nil {
		return nil, err
	}
	r.notifier.Notify(ctx, events.TicketUpdated(updated))
	return updated, nil
}

func (r *NotifyingTicketRepository) Clear(ctx context.Context) error {
	if err := r.TicketRepository.Clear(ctx); err != nil {
		return err
	}
	r.notifier.Notify(ctx, events.TicketsCleared())
	return nil
}
