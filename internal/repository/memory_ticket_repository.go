package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

type memoryTicketRepository struct {
	mu  sync.RWMutex
	now func() time.Time
	// items is ordered newest first.
	items []*domain.Ticket
}

// NewMemoryTicketRepository returns a process-local ticket store.
func NewMemoryTicketRepository() TicketRepository {
	return newMemoryTicketRepository(time.Now)
}

func newMemoryTicketRepository(now func() time.Time) *memoryTicketRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryTicketRepository{now: now}
}

func (r *memoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("create ticket", err)
	}
	record := ticket.Clone()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := r.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.Version = 1

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(record.ID) >= 0 {
		return nil, apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": record.ID})
	}
	r.items = append([]*domain.Ticket{record}, r.items...)
	return record.Clone(), nil
}

func (r *memoryTicketRepository) Get(ctx context.Context, id string) (*domain.Ticket, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperrors.NewStorageError("get ticket", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexOf(id)
	if idx < 0 {
		return nil, false, nil
	}
	return r.items[idx].Clone(), true, nil
}

func (r *memoryTicketRepository) Update(ctx context.Context, id string, ticket *domain.Ticket) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("update ticket", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(id)
	if idx < 0 {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	current := r.items[idx]
	if ticket.Version != current.Version {
		return nil, apperrors.NewVersionConflict(id, ticket.Version, current.Version)
	}
	record := ticket.Clone()
	record.ID = id
	record.Version = current.Version + 1
	record.UpdatedAt = r.now()
	r.items[idx] = record
	return record.Clone(), nil
}

func (r *memoryTicketRepository) ListByStatus(ctx context.Context, query StatusQuery) ([]domain.Ticket, error) {
	return r.list(ctx, query, func(*domain.Ticket) bool { return true })
}

func (r *memoryTicketRepository) ListEngineerTicketsByStatus(ctx context.Context, engineerID string, query StatusQuery) ([]domain.Ticket, error) {
	return r.list(ctx, query, func(t *domain.Ticket) bool { return t.IsAssignedTo(engineerID) })
}

func (r *memoryTicketRepository) list(ctx context.Context, query StatusQuery, keep func(*domain.Ticket) bool) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	limit, offset := query.page()
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []domain.Ticket{}
	skipped := 0
	for _, item := range r.items {
		if !query.matches(item.Status) || !keep(item) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, *item.Clone())
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *memoryTicketRepository) GetActiveTicketByCustomer(ctx context.Context, customerID string) (*domain.Ticket, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperrors.NewStorageError("get active ticket", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		if item.CreatedBy.ID == customerID && !item.Status.IsTerminal() {
			return item.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (r *memoryTicketRepository) CountByStatus(ctx context.Context, status domain.TicketStatus) (int, error) {
	return r.count(ctx, func(t *domain.Ticket) bool { return t.Status == status })
}

func (r *memoryTicketRepository) CountActiveByEngineer(ctx context.Context, engineerID string) (int, error) {
	return r.count(ctx, func(t *domain.Ticket) bool { return t.IsAssignedTo(engineerID) && t.Status.IsActive() })
}

func (r *memoryTicketRepository) count(ctx context.Context, match func(*domain.Ticket) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.NewStorageError("count tickets", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, item := range r.items {
		if match(item) {
			total++
		}
	}
	return total, nil
}

func (r *memoryTicketRepository) ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("list due tickets", err)
	}
	r.mu.RLock()
	var due []domain.Ticket
	for _, item := range r.items {
		if item.Status != domain.TicketStatusAwaitingConfirmation || item.AutoCompleteTimeoutAt == nil {
			continue
		}
		if !item.AutoCompleteTimeoutAt.After(now) {
			due = append(due, *item.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].AutoCompleteTimeoutAt.Before(*due[j].AutoCompleteTimeoutAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memoryTicketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Ticket, 0, len(r.items))
	for _, item := range r.items {
		result = append(result, *item.Clone())
	}
	return result, nil
}

func (r *memoryTicketRepository) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStorageError("clear tickets", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
	return nil
}

// Reload is a no-op: the process memory is the authoritative medium.
func (r *memoryTicketRepository) Reload(ctx context.Context) error {
	return nil
}

// put inserts or replaces a record as-is, keeping newest-first order.
func (r *memoryTicketRepository) put(ticket *domain.Ticket) {
	record := ticket.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexOf(record.ID); idx >= 0 {
		r.items[idx] = record
		return
	}
	pos := sort.Search(len(r.items), func(i int) bool {
		return !r.items[i].CreatedAt.After(record.CreatedAt)
	})
	r.items = append(r.items, nil)
	copy(r.items[pos+1:], r.items[pos:])
	r.items[pos] = record
}

func (r *memoryTicketRepository) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexOf(id); idx >= 0 {
		r.items = append(r.items[:idx], r.items[idx+1:]...)
	}
}

// replaceAll swaps the whole view for a fresh snapshot.
func (r *memoryTicketRepository) replaceAll(tickets []domain.Ticket) {
	items := make([]*domain.Ticket, 0, len(tickets))
	for i := range tickets {
		items = append(items, tickets[i].Clone())
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	r.mu.Lock()
	r.items = items
	r.mu.Unlock()
}

func (r *memoryTicketRepository) indexOf(id string) int {
	for i, item := range r.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
