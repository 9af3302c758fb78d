package repository

import (
	"context"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const defaultPageSize = 20

// StatusQuery selects tickets by one or more statuses with offset pagination.
// An empty Statuses slice matches every status.
type StatusQuery struct {
	Statuses []domain.TicketStatus
	PageSize int
	Offset   int
}

// ByStatus is shorthand for a StatusQuery.
func ByStatus(pageSize, offset int, statuses ...domain.TicketStatus) StatusQuery {
	return StatusQuery{Statuses: statuses, PageSize: pageSize, Offset: offset}
}

func (q StatusQuery) page() (limit, offset int) {
	limit = q.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (q StatusQuery) matches(status domain.TicketStatus) bool {
	if len(q.Statuses) == 0 {
		return true
	}
	for _, candidate := range q.Statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

// TicketRepository is the ticket store contract. Implementations carry no
// business rules; every returned ticket is a copy the caller may mutate.
//
// Update is a compare-and-swap: the incoming ticket's Version must equal
// the stored version or the call fails with a CONFLICT error. On success
// the stored version is incremented.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error)
	Get(ctx context.Context, id string) (*domain.Ticket, bool, error)
	Update(ctx context.Context, id string, ticket *domain.Ticket) (*domain.Ticket, error)
	ListByStatus(ctx context.Context, query StatusQuery) ([]domain.Ticket, error)
	ListEngineerTicketsByStatus(ctx context.Context, engineerID string, query StatusQuery) ([]domain.Ticket, error)
	GetActiveTicketByCustomer(ctx context.Context, customerID string) (*domain.Ticket, bool, error)
	CountByStatus(ctx context.Context, status domain.TicketStatus) (int, error)
	CountActiveByEngineer(ctx context.Context, engineerID string) (int, error)
	ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	ListAll(ctx context.Context) ([]domain.Ticket, error)
	Clear(ctx context.Context) error
	Reload(ctx context.Context) error
}

// FreshReader is implemented by stores that can bypass a local view and
// read a ticket straight from the authoritative store.
type FreshReader interface {
	GetFresh(ctx context.Context, id string) (*domain.Ticket, bool, error)
}

// ReadFresh loads a ticket through GetFresh when repo offers it and falls
// back to Get otherwise. Lifecycle guards read through this.
func ReadFresh(ctx context.Context, repo TicketRepository, id string) (*domain.Ticket, bool, error) {
	if fresh, ok := repo.(FreshReader); ok {
		return fresh.GetFresh(ctx, id)
	}
	return repo.Get(ctx, id)
}

func statusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
