package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/scheduler"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxPage         = 10000
)

// TicketsHandler exposes the ticket lifecycle to customers and engineers.
// Each request gets a manager bound to the authenticated profile.
type TicketsHandler struct {
	deps service.ManagerDependencies
	now  func() time.Time
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(deps service.ManagerDependencies) *TicketsHandler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketsHandler{deps: deps, now: now}
}

func (h *TicketsHandler) manager(c *fiber.Ctx) (*service.TicketManager, error) {
	profile, ok := auth.ProfileFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return service.NewTicketManager(profile, h.deps), nil
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	manager, err := h.manager(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if details, err := dto.Validate(req); err != nil {
		return apperrors.NewValidationError("invalid ticket request", details)
	}

	ticket, err := manager.CreateTicket(c.UserContext(), service.TicketCreateInput{
		ProblemDescription: req.ProblemDescription,
		EstimatedTime:      req.EstimatedTime,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// GetActiveTicket GET /tickets/active.
func (h *TicketsHandler) GetActiveTicket(c *fiber.Ctx) error {
	manager, err := h.manager(c)
	if err != nil {
		return err
	}
	ticket, err := manager.GetActiveTicket(c.UserContext())
	if err != nil {
		return err
	}
	if ticket == nil {
		return c.JSON(fiber.Map{"data": nil})
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// ListWaitingTickets GET /tickets/waiting.
func (h *TicketsHandler) ListWaitingTickets(c *fiber.Ctx) error {
	manager, err := h.manager(c)
	if err != nil {
		return err
	}
	page := parsePagination(c)
	tickets, err := manager.ListWaitingTickets(c.UserContext(), page.PageSize, pageOffset(page))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponses(tickets), "pagination": page})
}

// ListEngineerTickets GET /engineer/tickets.
func (h *TicketsHandler) ListEngineerTickets(c *fiber.Ctx) error {
	manager, err := h.manager(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	page := parsePagination(c)
	tickets, err := manager.ListMyTickets(c.UserContext(), statuses, page.PageSize, pageOffset(page))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponses(tickets), "pagination": page})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	manager, err := h.manager(c)
	if err != nil {
		return err
	}
	ticket, err := manager.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// GetHistory GET /tickets/:id/history.
func (h *TicketsHandler) GetHistory(c *fiber.Ctx) error {
	manager, err := h.manager(c)
	if err != nil {
		return err
	}
	changes, err := manager.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": changeResponses(changes)})
}

// ClaimTicket POST /tickets/:id/claim.
func (h *TicketsHandler) ClaimTicket(c *fiber.Ctx) error {
	return h.act(c, (*service.TicketManager).ClaimTicket)
}

// MarkAsFixed POST /tickets/:id/fix.
func (h *TicketsHandler) MarkAsFixed(c *fiber.Ctx) error {
	return h.act(c, (*service.TicketManager).MarkAsFixed)
}

// MarkAsResolved POST /tickets/:id/resolve.
func (h *TicketsHandler) MarkAsResolved(c *fiber.Ctx) error {
	return h.act(c, (*service.TicketManager).MarkAsResolved)
}

// MarkStillBroken POST /tickets/:id/reject.
func (h *TicketsHandler) MarkStillBroken(c *fiber.Ctx) error {
	return h.act(c, (*service.TicketManager).MarkStillBroken)
}

// AbandonTicket POST /tickets/:id/abandon.
func (h *TicketsHandler) AbandonTicket(c *fiber.Ctx) error {
	return h.act(c, (*service.TicketManager).AbandonTicket)
}

type ticketAction func(*service.TicketManager, context.Context, string) (*domain.Ticket, error)

func (h *TicketsHandler) act(c *fiber.Ctx, action ticketAction) error {
	manager, err := h.manager(c)
	if err != nil {
		return err
	}
	ticket, err := action(manager, c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// parsePagination reads page and page_size, clamped so the offset stays
// well inside int range.
func parsePagination(c *fiber.Ctx) dto.Pagination {
	return dto.Pagination{
		Page:     min(parseInt(c.Query("page"), 1), maxPage),
		PageSize: min(parseInt(c.Query("page_size"), defaultPageSize), maxPageSize),
	}
}

func pageOffset(page dto.Pagination) int {
	return (page.Page - 1) * page.PageSize
}

func parseStatuses(raw string) ([]domain.TicketStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var statuses []domain.TicketStatus
	for _, part := range strings.Split(raw, ",") {
		status, err := domain.ParseTicketStatus(part)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": part})
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func (h *TicketsHandler) ticketResponses(tickets []domain.Ticket) []dto.TicketResponse {
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, h.ticketResponse(&tickets[i]))
	}
	return items
}

func (h *TicketsHandler) ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:                    ticket.ID,
		Status:                ticket.Status,
		Summary:               ticket.Summary,
		ProblemDescription:    ticket.ProblemDescription,
		EstimatedTime:         ticket.EstimatedTime,
		CreatedBy:             dto.ProfileRefResponse{ID: ticket.CreatedBy.ID, Name: ticket.CreatedBy.Name},
		CreatedAt:             ticket.CreatedAt,
		ClaimedAt:             ticket.ClaimedAt,
		MarkedAsFixedAt:       ticket.MarkedAsFixedAt,
		AutoCompleteTimeoutAt: ticket.AutoCompleteTimeoutAt,
		ResolvedAt:            ticket.ResolvedAt,
		AbandonedAt:           ticket.AbandonedAt,
		ElapsedTime:           ticket.ElapsedTime,
		Version:               ticket.Version,
		UpdatedAt:             ticket.UpdatedAt,
	}
	if ticket.AssignedTo != nil {
		resp.AssignedTo = &dto.ProfileRefResponse{ID: ticket.AssignedTo.ID, Name: ticket.AssignedTo.Name}
	}
	if ticket.Status == domain.TicketStatusAwaitingConfirmation {
		remaining := int64(scheduler.RemainingTime(ticket, h.now()) / time.Second)
		resp.RemainingSeconds = &remaining
	}
	return resp
}

func changeResponses(changes []domain.TicketChange) []dto.TicketChangeResponse {
	resp := make([]dto.TicketChangeResponse, 0, len(changes))
	for _, change := range changes {
		resp = append(resp, dto.TicketChangeResponse{
			ID:         change.ID,
			ActorType:  change.ActorType,
			ActorID:    change.ActorID,
			FromStatus: change.FromStatus,
			ToStatus:   change.ToStatus,
			Action:     change.Action,
			CreatedAt:  change.CreatedAt,
		})
	}
	return resp
}
