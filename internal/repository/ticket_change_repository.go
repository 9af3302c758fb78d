package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// TicketChangeRepository stores lifecycle audit entries.
type TicketChangeRepository interface {
	Create(ctx context.Context, change *domain.TicketChange) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketChange, error)
}

type ticketChangeRepository struct {
	pool *pgxpool.Pool
}

// NewTicketChangeRepository builds the Postgres-backed change log.
func NewTicketChangeRepository(pool *pgxpool.Pool) TicketChangeRepository {
	return &ticketChangeRepository{pool: pool}
}

func (r *ticketChangeRepository) Create(ctx context.Context, change *domain.TicketChange) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	var from *string
	if change.FromStatus != nil {
		s := string(*change.FromStatus)
		from = &s
	}
	const query = `
        INSERT INTO ticket_changes (id, ticket_id, actor_type, actor_id, from_status, to_status, action)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`
	err := r.pool.QueryRow(ctx, query,
		change.ID,
		change.TicketID,
		string(change.ActorType),
		change.ActorID,
		from,
		string(change.ToStatus),
		string(change.Action),
	).Scan(&change.CreatedAt)
	if err != nil {
		return apperrors.NewStorageError("record ticket change", err)
	}
	return nil
}

func (r *ticketChangeRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketChange, error) {
	const query = `
        SELECT id, ticket_id, actor_type, actor_id, from_status, to_status, action, created_at
        FROM ticket_changes WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, apperrors.NewStorageError("list ticket changes", err)
	}
	defer rows.Close()

	result := []domain.TicketChange{}
	for rows.Next() {
		var (
			change    domain.TicketChange
			actorType string
			from      *string
			to        string
			action    string
		)
		if err := rows.Scan(
			&change.ID,
			&change.TicketID,
			&actorType,
			&change.ActorID,
			&from,
			&to,
			&action,
			&change.CreatedAt,
		); err != nil {
			return nil, apperrors.NewStorageError("list ticket changes", err)
		}
		change.ActorType = domain.ProfileType(actorType)
		change.ToStatus = domain.TicketStatus(to)
		change.Action = domain.TicketAction(action)
		if from != nil {
			status := domain.TicketStatus(*from)
			change.FromStatus = &status
		}
		result = append(result, change)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("list ticket changes", err)
	}
	return result, nil
}

type memoryTicketChangeRepository struct {
	mu      sync.Mutex
	changes []domain.TicketChange
}

// NewMemoryTicketChangeRepository returns a process-local change log.
func NewMemoryTicketChangeRepository() TicketChangeRepository {
	return &memoryTicketChangeRepository{}
}

func (r *memoryTicketChangeRepository) Create(ctx context.Context, change *domain.TicketChange) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, *change)
	return nil
}

func (r *memoryTicketChangeRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := []domain.TicketChange{}
	for _, change := range r.changes {
		if change.TicketID == ticketID {
			result = append(result, change)
		}
	}
	return result, nil
}
