package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
)

// BillingSignal is emitted once per ticket when it crosses into a payout
// status.
type BillingSignal struct {
	TicketID    string    `json:"ticket_id"`
	Status      string    `json:"status"`
	CustomerID  string    `json:"customer_id"`
	EngineerID  string    `json:"engineer_id"`
	ResolvedAt  time.Time `json:"resolved_at"`
	ElapsedTime int       `json:"elapsed_time"`
}

// WebhookSender delivers a billing signal to an external endpoint.
type WebhookSender interface {
	Enqueue(url string, signal BillingSignal) bool
}

// LifecycleObserver reports ticket lifecycle milestones to external
// collaborators. Only changes written by this process are reported, so a
// boundary crossing is signalled once even with many replicas listening.
type LifecycleObserver struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	sender     WebhookSender
}

// NewLifecycleObserver creates the observer. sender may be nil.
func NewLifecycleObserver(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig, sender WebhookSender) *LifecycleObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleObserver{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		sender:     sender,
	}
}

// RegisterHandlers subscribes to events.
func (n *LifecycleObserver) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketUpdated, n.handleTicketUpdated)
	n.dispatcher.Subscribe(events.EventTicketsCleared, n.handleTicketsCleared)
}

func (n *LifecycleObserver) handleTicketCreated(ctx context.Context, event events.Event) error {
	if event.Remote || event.Ticket == nil {
		return nil
	}
	n.logger.Info("TicketCreated",
		zap.String("ticket_id", event.TicketID),
		zap.String("customer_id", event.Ticket.CreatedBy.ID),
		zap.String("summary", event.Ticket.Summary))
	return nil
}

func (n *LifecycleObserver) handleTicketUpdated(ctx context.Context, event events.Event) error {
	if event.Remote || event.Ticket == nil {
		return nil
	}
	ticket := event.Ticket
	fields := []zap.Field{
		zap.String("ticket_id", ticket.ID),
		zap.String("status", string(ticket.Status)),
		zap.Int64("version", ticket.Version),
	}
	if ticket.AssignedTo != nil {
		fields = append(fields, zap.String("engineer_id", ticket.AssignedTo.ID))
	}

	switch {
	case ticket.Status == domain.TicketStatusAwaitingConfirmation && ticket.AutoCompleteTimeoutAt != nil:
		n.logger.Info("TicketAwaitingConfirmation", append(fields, zap.Time("auto_complete_at", *ticket.AutoCompleteTimeoutAt))...)
	case ticket.Status.IsPayoutBoundary():
		n.logger.Info("TicketBillingBoundary", fields...)
		n.sendWebhookNotification(ticket)
	default:
		n.logger.Info("TicketStatusChanged", fields...)
	}
	return nil
}

func (n *LifecycleObserver) handleTicketsCleared(ctx context.Context, event events.Event) error {
	n.logger.Warn("TicketsCleared", zap.String("origin", event.Origin), zap.Bool("remote", event.Remote))
	return nil
}

func (n *LifecycleObserver) sendWebhookNotification(ticket *domain.Ticket) {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" || n.sender == nil {
		return
	}
	signal := BillingSignal{
		TicketID:    ticket.ID,
		Status:      string(ticket.Status),
		CustomerID:  ticket.CreatedBy.ID,
		ElapsedTime: ticket.ElapsedTime,
	}
	if ticket.AssignedTo != nil {
		signal.EngineerID = ticket.AssignedTo.ID
	}
	if ticket.ResolvedAt != nil {
		signal.ResolvedAt = *ticket.ResolvedAt
	}
	if !n.sender.Enqueue(url, signal) {
		n.logger.Warn("billing webhook queue full", zap.String("ticket_id", ticket.ID))
	}
}
