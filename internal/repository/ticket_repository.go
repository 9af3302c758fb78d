package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const ticketColumns = `id, status, summary, problem_description, estimated_time,
               created_by_id, created_by_name, assigned_to_id, assigned_to_name,
               created_at, claimed_at, marked_as_fixed_at, auto_complete_timeout_at,
               resolved_at, abandoned_at, elapsed_time, version, updated_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres-backed ticket store.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	record := ticket.Clone()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	assigneeID, assigneeName := assigneeColumns(record.AssignedTo)
	query := `
        INSERT INTO tickets (id, status, summary, problem_description, estimated_time,
            created_by_id, created_by_name, assigned_to_id, assigned_to_name,
            created_at, claimed_at, marked_as_fixed_at, auto_complete_timeout_at,
            resolved_at, abandoned_at, elapsed_time, version, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,1,NOW())
        RETURNING ` + ticketColumns
	stored, err := scanTicket(r.pool.QueryRow(ctx, query,
		record.ID,
		string(record.Status),
		record.Summary,
		record.ProblemDescription,
		record.EstimatedTime,
		record.CreatedBy.ID,
		record.CreatedBy.Name,
		assigneeID,
		assigneeName,
		record.CreatedAt,
		record.ClaimedAt,
		record.MarkedAsFixedAt,
		record.AutoCompleteTimeoutAt,
		record.ResolvedAt,
		record.AbandonedAt,
		record.ElapsedTime,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": record.ID})
		}
		return nil, apperrors.NewStorageError("create ticket", err)
	}
	return stored, nil
}

func (r *ticketRepository) Get(ctx context.Context, id string) (*domain.Ticket, bool, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewStorageError("get ticket", err)
	}
	return ticket, true, nil
}

func (r *ticketRepository) Update(ctx context.Context, id string, ticket *domain.Ticket) (*domain.Ticket, error) {
	assigneeID, assigneeName := assigneeColumns(ticket.AssignedTo)
	query := `
        UPDATE tickets SET status=$3, summary=$4, problem_description=$5, estimated_time=$6,
            created_by_id=$7, created_by_name=$8, assigned_to_id=$9, assigned_to_name=$10,
            claimed_at=$11, marked_as_fixed_at=$12, auto_complete_timeout_at=$13,
            resolved_at=$14, abandoned_at=$15, elapsed_time=$16,
            version=version+1, updated_at=NOW()
        WHERE id=$1 AND version=$2
        RETURNING ` + ticketColumns
	stored, err := scanTicket(r.pool.QueryRow(ctx, query,
		id,
		ticket.Version,
		string(ticket.Status),
		ticket.Summary,
		ticket.ProblemDescription,
		ticket.EstimatedTime,
		ticket.CreatedBy.ID,
		ticket.CreatedBy.Name,
		assigneeID,
		assigneeName,
		ticket.ClaimedAt,
		ticket.MarkedAsFixedAt,
		ticket.AutoCompleteTimeoutAt,
		ticket.ResolvedAt,
		ticket.AbandonedAt,
		ticket.ElapsedTime,
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewStorageError("update ticket", err)
	}

	var current int64
	if err := r.pool.QueryRow(ctx, `SELECT version FROM tickets WHERE id=$1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return nil, apperrors.NewStorageError("update ticket", err)
	}
	return nil, apperrors.NewVersionConflict(id, ticket.Version, current)
}

func (r *ticketRepository) ListByStatus(ctx context.Context, query StatusQuery) ([]domain.Ticket, error) {
	return r.listWhere(ctx, query, nil, nil)
}

func (r *ticketRepository) ListEngineerTicketsByStatus(ctx context.Context, engineerID string, query StatusQuery) ([]domain.Ticket, error) {
	return r.listWhere(ctx, query, []string{"assigned_to_id=$%d"}, []any{engineerID})
}

// listWhere builds the filter clauses with positional placeholders; extra
// clauses carry a single %d verb for their own argument position.
func (r *ticketRepository) listWhere(ctx context.Context, query StatusQuery, extra []string, extraArgs []any) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	for i, clause := range extra {
		args = append(args, extraArgs[i])
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if len(query.Statuses) > 0 {
		placeholders := make([]string, len(query.Statuses))
		for i, status := range query.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit, offset := query.page()
	sql := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	return tickets, nil
}

func (r *ticketRepository) GetActiveTicketByCustomer(ctx context.Context, customerID string) (*domain.Ticket, bool, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE created_by_id=$1 AND status = ANY($2)
        ORDER BY created_at DESC LIMIT 1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, customerID, statusStrings(domain.NonTerminalTicketStatuses)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewStorageError("get active ticket", err)
	}
	return ticket, true, nil
}

func (r *ticketRepository) CountByStatus(ctx context.Context, status domain.TicketStatus) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE status=$1`, string(status)).Scan(&total); err != nil {
		return 0, apperrors.NewStorageError("count tickets", err)
	}
	return total, nil
}

func (r *ticketRepository) CountActiveByEngineer(ctx context.Context, engineerID string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE assigned_to_id=$1 AND status = ANY($2)`,
		engineerID, statusStrings(domain.ActiveTicketStatuses)).Scan(&total)
	if err != nil {
		return 0, apperrors.NewStorageError("count active tickets", err)
	}
	return total, nil
}

func (r *ticketRepository) ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status=$1 AND auto_complete_timeout_at <= $2
        ORDER BY auto_complete_timeout_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, string(domain.TicketStatusAwaitingConfirmation), now, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("list due tickets", err)
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, apperrors.NewStorageError("list due tickets", err)
	}
	return tickets, nil
}

func (r *ticketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	return tickets, nil
}

func (r *ticketRepository) Clear(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM tickets`); err != nil {
		return apperrors.NewStorageError("clear tickets", err)
	}
	return nil
}

// Reload verifies the pool is reachable; every read already goes to the database.
func (r *ticketRepository) Reload(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return apperrors.NewStorageError("reload tickets", err)
	}
	return nil
}

func assigneeColumns(ref *domain.ProfileRef) (*string, *string) {
	if ref == nil {
		return nil, nil
	}
	id, name := ref.ID, ref.Name
	return &id, &name
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket       domain.Ticket
		status       string
		assigneeID   *string
		assigneeName *string
	)
	if err := row.Scan(
		&ticket.ID,
		&status,
		&ticket.Summary,
		&ticket.ProblemDescription,
		&ticket.EstimatedTime,
		&ticket.CreatedBy.ID,
		&ticket.CreatedBy.Name,
		&assigneeID,
		&assigneeName,
		&ticket.CreatedAt,
		&ticket.ClaimedAt,
		&ticket.MarkedAsFixedAt,
		&ticket.AutoCompleteTimeoutAt,
		&ticket.ResolvedAt,
		&ticket.AbandonedAt,
		&ticket.ElapsedTime,
		&ticket.Version,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ticket.Status = domain.TicketStatus(status)
	if assigneeID != nil {
		ticket.AssignedTo = &domain.ProfileRef{ID: *assigneeID}
		if assigneeName != nil {
			ticket.AssignedTo.Name = *assigneeName
		}
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
