package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// CachedTicketRepository keeps an in-memory view of an authoritative store.
// Lookups and listings are served from the view; writes and the checks
// that gate invariants (active counts, due deadlines) go to the inner store.
// The view is refreshed by Reload, Invalidate and ApplyRemote.
type CachedTicketRepository struct {
	inner  TicketRepository
	view   *memoryTicketRepository
	logger *zap.Logger
}

// NewCachedTicketRepository wraps inner with an empty view. Call Reload
// to populate it.
func NewCachedTicketRepository(inner TicketRepository, logger *zap.Logger) *CachedTicketRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedTicketRepository{
		inner:  inner,
		view:   newMemoryTicketRepository(time.Now),
		logger: logger,
	}
}

func (r *CachedTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	created, err := r.inner.Create(ctx, ticket)
	if err != nil {
		return nil, err
	}
	r.view.put(created)
	return created, nil
}

func (r *CachedTicketRepository) Get(ctx context.Context, id string) (*domain.Ticket, bool, error) {
	if ticket, ok, err := r.view.Get(ctx, id); err != nil || ok {
		return ticket, ok, err
	}
	ticket, ok, err := r.inner.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	r.view.put(ticket)
	return ticket, true, nil
}

// GetFresh reads id from the inner store and refreshes the view with it.
func (r *CachedTicketRepository) GetFresh(ctx context.Context, id string) (*domain.Ticket, bool, error) {
	ticket, ok, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		r.view.remove(id)
		return nil, false, nil
	}
	r.view.put(ticket)
	return ticket, true, nil
}

func (r *CachedTicketRepository) Update(ctx context.Context, id string, ticket *domain.Ticket) (*domain.Ticket, error) {
	updated, err := r.inner.Update(ctx, id, ticket)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeConflict) || apperrors.IsCode(err, apperrors.CodeNotFound) {
			// the view was stale; refresh it so a retry reads the stored version
			r.Invalidate(ctx, id)
		}
		return nil, err
	}
	r.view.put(updated)
	return updated, nil
}

func (r *CachedTicketRepository) ListByStatus(ctx context.Context, query StatusQuery) ([]domain.Ticket, error) {
	return r.view.ListByStatus(ctx, query)
}

func (r *CachedTicketRepository) ListEngineerTicketsByStatus(ctx context.Context, engineerID string, query StatusQuery) ([]domain.Ticket, error) {
	return r.view.ListEngineerTicketsByStatus(ctx, engineerID, query)
}

func (r *CachedTicketRepository) GetActiveTicketByCustomer(ctx context.Context, customerID string) (*domain.Ticket, bool, error) {
	return r.inner.GetActiveTicketByCustomer(ctx, customerID)
}

func (r *CachedTicketRepository) CountByStatus(ctx context.Context, status domain.TicketStatus) (int, error) {
	return r.view.CountByStatus(ctx, status)
}

func (r *CachedTicketRepository) CountActiveByEngineer(ctx context.Context, engineerID string) (int, error) {
	return r.inner.CountActiveByEngineer(ctx, engineerID)
}

func (r *CachedTicketRepository) ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	return r.inner.ListDueForAutoComplete(ctx, now, limit)
}

func (r *CachedTicketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	return r.view.ListAll(ctx)
}

func (r *CachedTicketRepository) Clear(ctx context.Context) error {
	if err := r.inner.Clear(ctx); err != nil {
		return err
	}
	r.view.replaceAll(nil)
	return nil
}

// Reload replaces the view with a fresh snapshot of the inner store.
func (r *CachedTicketRepository) Reload(ctx context.Context) error {
	if err := r.inner.Reload(ctx); err != nil {
		return err
	}
	tickets, err := r.inner.ListAll(ctx)
	if err != nil {
		return err
	}
	r.view.replaceAll(tickets)
	r.logger.Debug("ticket cache reloaded", zap.Int("tickets", len(tickets)))
	return nil
}

// Invalidate refetches one ticket from the inner store.
func (r *CachedTicketRepository) Invalidate(ctx context.Context, id string) {
	ticket, ok, err := r.inner.Get(ctx, id)
	if err != nil {
		r.logger.Warn("refresh cached ticket", zap.String("ticket_id", id), zap.Error(err))
		return
	}
	if !ok {
		r.view.remove(id)
		return
	}
	r.view.put(ticket)
}

// ApplyRemote folds a change made by another context into the view. It
// matches the listener's OnRemoteChange hook.
func (r *CachedTicketRepository) ApplyRemote(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.EventTicketsCleared:
		r.view.replaceAll(nil)
	case events.EventTicketCreated, events.EventTicketUpdated:
		if event.Ticket == nil {
			r.Invalidate(ctx, event.TicketID)
			return
		}
		if cached, ok, _ := r.view.Get(ctx, event.Ticket.ID); ok && cached.Version >= event.Ticket.Version {
			return
		}
		r.view.put(event.Ticket)
	}
}
