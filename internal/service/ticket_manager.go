package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// errNoWrite aborts a transition without touching the store.
var errNoWrite = errors.New("no write")

// TicketManager is the ticket state machine bound to one caller.
type TicketManager struct {
	caller  domain.Profile
	tickets repository.TicketRepository
	changes repository.TicketChangeRepository
	policy  LifecyclePolicy
	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
	locks   *KeyedLocks
}

// ManagerDependencies bundles collaborators for the manager.
type ManagerDependencies struct {
	TicketRepo repository.TicketRepository
	ChangeLog  repository.TicketChangeRepository
	Policy     LifecyclePolicy
	Now        func() time.Time
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// Locks defaults to one table shared by the whole process.
	Locks *KeyedLocks
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	ProblemDescription string
	EstimatedTime      string
}

// NewTicketManager constructs a manager acting on behalf of caller.
func NewTicketManager(caller domain.Profile, deps ManagerDependencies) *TicketManager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := deps.Locks
	if locks == nil {
		locks = processLocks
	}
	return &TicketManager{
		caller:  caller,
		tickets: deps.TicketRepo,
		changes: deps.ChangeLog,
		policy:  deps.Policy.withDefaults(),
		now:     now,
		logger:  logger,
		metrics: deps.Metrics,
		locks:   locks,
	}
}

// Caller returns the profile the manager acts for.
func (m *TicketManager) Caller() domain.Profile {
	return m.caller
}

// CreateTicket opens a waiting ticket for the calling customer.
func (m *TicketManager) CreateTicket(ctx context.Context, input TicketCreateInput) (*domain.Ticket, error) {
	customer, err := m.requireCustomer("create tickets")
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(input.ProblemDescription)
	if description == "" {
		return nil, apperrors.NewValidationError("problem description is required",
			map[string]any{"field": "problem_description"})
	}
	estimated := strings.TrimSpace(input.EstimatedTime)
	if estimated == "" {
		estimated = defaultEstimatedTime
	}

	release := m.locks.Lock("customer:" + customer.ID)
	defer release()

	if active, ok, err := m.tickets.GetActiveTicketByCustomer(ctx, customer.ID); err != nil {
		return nil, err
	} else if ok {
		return nil, apperrors.NewConflict("customer already has an active ticket",
			map[string]any{"ticket_id": active.ID, "status": string(active.Status)})
	}

	ticket := &domain.Ticket{
		Status:             domain.TicketStatusWaiting,
		Summary:            domain.Summarize(description),
		ProblemDescription: description,
		EstimatedTime:      estimated,
		CreatedBy:          customer.Ref(),
		CreatedAt:          m.now(),
	}
	created, err := m.tickets.Create(ctx, ticket)
	if err != nil {
		return nil, err
	}
	m.recordChange(ctx, created, nil, domain.ActionCreate)
	m.logger.Info("ticket created", zap.String("ticket_id", created.ID), zap.String("customer_id", customer.ID))
	return created, nil
}

// ClaimTicket assigns a waiting ticket to the calling engineer.
func (m *TicketManager) ClaimTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	engineer, err := m.requireEngineer("claim tickets")
	if err != nil {
		return nil, err
	}

	release := m.locks.Lock("engineer:" + engineer.ID)
	defer release()

	return m.transition(ctx, id, domain.ActionClaim, func(ctx context.Context, ticket *domain.Ticket) error {
		if ticket.AssignedTo != nil {
			return apperrors.NewAlreadyAssigned(ticket.ID)
		}
		if ticket.Status != domain.TicketStatusWaiting {
			return apperrors.NewInvalidTransition(string(ticket.Status), "claim")
		}
		active, err := m.tickets.CountActiveByEngineer(ctx, engineer.ID)
		if err != nil {
			return err
		}
		if active >= m.policy.MaxActiveTickets {
			return apperrors.NewConcurrencyLimit(m.policy.MaxActiveTickets)
		}
		ref := engineer.Ref()
		ticket.Status = domain.TicketStatusInProgress
		ticket.AssignedTo = &ref
		ticket.ClaimedAt = domain.TimePtr(m.now())
		ticket.AbandonedAt = nil
		return nil
	})
}

// MarkAsFixed moves the engineer's ticket to awaiting-confirmation and
// arms its auto-complete deadline.
func (m *TicketManager) MarkAsFixed(ctx context.Context, id string) (*domain.Ticket, error) {
	engineer, err := m.requireEngineer("mark tickets as fixed")
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, id, domain.ActionMarkFixed, func(_ context.Context, ticket *domain.Ticket) error {
		if !ticket.IsAssignedTo(engineer.ID) {
			return apperrors.NewForbidden("ticket is not assigned to you")
		}
		if ticket.Status != domain.TicketStatusInProgress {
			return apperrors.NewInvalidTransition(string(ticket.Status), "mark as fixed")
		}
		now := m.now()
		ticket.Status = domain.TicketStatusAwaitingConfirmation
		ticket.MarkedAsFixedAt = domain.TimePtr(now)
		ticket.AutoCompleteTimeoutAt = domain.TimePtr(now.Add(m.policy.AutoCompleteTimeout))
		return nil
	})
}

// MarkAsResolved confirms a fix and closes the ticket with the configured
// resolution status. Only tickets awaiting confirmation can be resolved.
func (m *TicketManager) MarkAsResolved(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := m.requireKnownCaller(); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, domain.ActionResolve, func(_ context.Context, ticket *domain.Ticket) error {
		if err := m.canConfirm(ticket); err != nil {
			return err
		}
		if ticket.Status != domain.TicketStatusAwaitingConfirmation {
			return apperrors.NewInvalidTransition(string(ticket.Status), "resolve")
		}
		m.resolve(ticket, m.policy.ResolutionStatus)
		return nil
	})
}

// MarkStillBroken sends a fixed ticket back to its engineer.
func (m *TicketManager) MarkStillBroken(ctx context.Context, id string) (*domain.Ticket, error) {
	customer, err := m.requireCustomer("reject fixes")
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, id, domain.ActionStillBroken, func(_ context.Context, ticket *domain.Ticket) error {
		if ticket.CreatedBy.ID != customer.ID {
			return apperrors.NewForbidden("ticket belongs to another customer")
		}
		if ticket.Status != domain.TicketStatusAwaitingConfirmation {
			return apperrors.NewInvalidTransition(string(ticket.Status), "reject fix for")
		}
		ticket.Status = domain.TicketStatusInProgress
		ticket.MarkedAsFixedAt = nil
		ticket.AutoCompleteTimeoutAt = nil
		return nil
	})
}

// AutoCompleteTicket closes a ticket whose confirmation window elapsed.
// Any other status returns the ticket unchanged without a write.
func (m *TicketManager) AutoCompleteTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := m.requireKnownCaller(); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, domain.ActionAutoComplete, func(_ context.Context, ticket *domain.Ticket) error {
		if ticket.Status != domain.TicketStatusAwaitingConfirmation {
			return errNoWrite
		}
		m.resolve(ticket, domain.TicketStatusAutoCompleted)
		return nil
	})
}

// AbandonTicket returns the engineer's ticket to the waiting pool.
func (m *TicketManager) AbandonTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	engineer, err := m.requireEngineer("abandon tickets")
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, id, domain.ActionAbandon, func(_ context.Context, ticket *domain.Ticket) error {
		if !ticket.IsAssignedTo(engineer.ID) {
			return apperrors.NewForbidden("ticket is not assigned to you")
		}
		if !ticket.Status.IsActive() {
			return apperrors.NewInvalidTransition(string(ticket.Status), "abandon")
		}
		ticket.Status = domain.TicketStatusWaiting
		ticket.AssignedTo = nil
		ticket.ClaimedAt = nil
		ticket.MarkedAsFixedAt = nil
		ticket.AutoCompleteTimeoutAt = nil
		ticket.AbandonedAt = domain.TimePtr(m.now())
		return nil
	})
}

// GetActiveTicket returns the calling customer's non-terminal ticket, or nil.
func (m *TicketManager) GetActiveTicket(ctx context.Context) (*domain.Ticket, error) {
	customer, err := m.requireCustomer("view an active ticket")
	if err != nil {
		return nil, err
	}
	ticket, ok, err := m.tickets.GetActiveTicketByCustomer(ctx, customer.ID)
	if err != nil || !ok {
		return nil, err
	}
	return ticket, nil
}

// ListWaitingTickets returns unclaimed tickets, newest first.
func (m *TicketManager) ListWaitingTickets(ctx context.Context, pageSize, offset int) ([]domain.Ticket, error) {
	if err := m.requireKnownCaller(); err != nil {
		return nil, err
	}
	if _, ok := m.caller.(domain.CustomerProfile); ok {
		return nil, apperrors.NewForbidden("only engineers can browse waiting tickets")
	}
	return m.tickets.ListByStatus(ctx, repository.ByStatus(pageSize, offset, domain.TicketStatusWaiting))
}

// ListMyTickets returns the calling engineer's tickets in the given statuses.
// No statuses means the engineer's active tickets.
func (m *TicketManager) ListMyTickets(ctx context.Context, statuses []domain.TicketStatus, pageSize, offset int) ([]domain.Ticket, error) {
	engineer, err := m.requireEngineer("list assigned tickets")
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		statuses = domain.ActiveTicketStatuses
	}
	return m.tickets.ListEngineerTicketsByStatus(ctx, engineer.ID, repository.ByStatus(pageSize, offset, statuses...))
}

// GetTicket fetches a single ticket. Customers only see their own.
func (m *TicketManager) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := m.requireKnownCaller(); err != nil {
		return nil, err
	}
	ticket, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer, ok := m.caller.(domain.CustomerProfile); ok && ticket.CreatedBy.ID != customer.ID {
		// other customers' tickets are reported as missing
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return ticket, nil
}

// History returns the recorded transitions of a ticket, oldest first.
func (m *TicketManager) History(ctx context.Context, id string) ([]domain.TicketChange, error) {
	if _, err := m.GetTicket(ctx, id); err != nil {
		return nil, err
	}
	if m.changes == nil {
		return []domain.TicketChange{}, nil
	}
	return m.changes.ListByTicket(ctx, id)
}

// transition runs read, validate and compare-and-swap, re-reading on a
// version conflict up to the policy's retry budget.
func (m *TicketManager) transition(ctx context.Context, id string, action domain.TicketAction, apply func(context.Context, *domain.Ticket) error) (*domain.Ticket, error) {
	var lastErr error
	for attempt := 0; attempt <= m.policy.ConflictRetries; attempt++ {
		ticket, err := m.loadFresh(ctx, id)
		if err != nil {
			return nil, err
		}
		from := ticket.Status
		if err := apply(ctx, ticket); err != nil {
			if errors.Is(err, errNoWrite) {
				return ticket, nil
			}
			return nil, err
		}
		if err := ticket.Validate(); err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("%s produced invalid ticket: %w", action, err))
		}

		updated, err := m.tickets.Update(ctx, id, ticket)
		if err == nil {
			m.recordChange(ctx, updated, &from, action)
			m.logger.Info("ticket transitioned",
				zap.String("ticket_id", id),
				zap.String("action", string(action)),
				zap.String("from", string(from)),
				zap.String("to", string(updated.Status)),
				zap.String("actor_id", m.caller.ProfileID()))
			return updated, nil
		}
		if !apperrors.IsCode(err, apperrors.CodeConflict) {
			return nil, err
		}
		lastErr = err
		m.logger.Debug("ticket version conflict",
			zap.String("ticket_id", id),
			zap.String("action", string(action)),
			zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

func (m *TicketManager) load(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, ok, err := m.tickets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return ticket, nil
}

// loadFresh bypasses any cached view so guards see the stored version.
func (m *TicketManager) loadFresh(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, ok, err := repository.ReadFresh(ctx, m.tickets, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return ticket, nil
}

// canConfirm reports whether the caller may confirm a fix: the owning
// customer, the assigned engineer, or the system.
func (m *TicketManager) canConfirm(ticket *domain.Ticket) error {
	switch caller := m.caller.(type) {
	case domain.CustomerProfile:
		if ticket.CreatedBy.ID != caller.ID {
			return apperrors.NewForbidden("ticket belongs to another customer")
		}
	case domain.EngineerProfile:
		if !ticket.IsAssignedTo(caller.ID) {
			return apperrors.NewForbidden("ticket is not assigned to you")
		}
	}
	return nil
}

func (m *TicketManager) resolve(ticket *domain.Ticket, status domain.TicketStatus) {
	now := m.now()
	ticket.Status = status
	ticket.ResolvedAt = domain.TimePtr(now)
	if status != domain.TicketStatusAutoCompleted {
		ticket.MarkedAsFixedAt = nil
		ticket.AutoCompleteTimeoutAt = nil
	}
	if elapsed := now.Sub(ticket.CreatedAt); elapsed > 0 {
		ticket.ElapsedTime = int(elapsed / time.Second)
	}
}

func (m *TicketManager) recordChange(ctx context.Context, ticket *domain.Ticket, from *domain.TicketStatus, action domain.TicketAction) {
	m.metrics.RecordTransition(statusOrEmpty(from), string(ticket.Status))
	if m.changes == nil {
		return
	}
	change := &domain.TicketChange{
		TicketID:   ticket.ID,
		ActorType:  m.caller.Type(),
		ActorID:    m.caller.ProfileID(),
		FromStatus: from,
		ToStatus:   ticket.Status,
		Action:     action,
		CreatedAt:  m.now(),
	}
	if err := m.changes.Create(ctx, change); err != nil {
		m.logger.Warn("record ticket change",
			zap.String("ticket_id", ticket.ID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func statusOrEmpty(status *domain.TicketStatus) string {
	if status == nil {
		return ""
	}
	return string(*status)
}

func (m *TicketManager) requireCustomer(operation string) (domain.CustomerProfile, error) {
	switch caller := m.caller.(type) {
	case domain.CustomerProfile:
		return caller, nil
	case domain.EngineerProfile, domain.SystemProfile:
		return domain.CustomerProfile{}, apperrors.NewForbidden("only customers can " + operation)
	default:
		return domain.CustomerProfile{}, apperrors.NewForbidden("unknown caller")
	}
}

func (m *TicketManager) requireEngineer(operation string) (domain.EngineerProfile, error) {
	switch caller := m.caller.(type) {
	case domain.EngineerProfile:
		return caller, nil
	case domain.CustomerProfile, domain.SystemProfile:
		return domain.EngineerProfile{}, apperrors.NewForbidden("only engineers can " + operation)
	default:
		return domain.EngineerProfile{}, apperrors.NewForbidden("unknown caller")
	}
}

func (m *TicketManager) requireKnownCaller() error {
	switch m.caller.(type) {
	case domain.CustomerProfile, domain.EngineerProfile, domain.SystemProfile:
		return nil
	default:
		return apperrors.NewForbidden("unknown caller")
	}
}
