package dto

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	ProblemDescription string `json:"problem_description" validate:"required,max=4000"`
	EstimatedTime      string `json:"estimated_time" validate:"max=64"`
}

// ProfileRefResponse names a customer or engineer.
type ProfileRefResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TicketResponse is the client view of a ticket.
type TicketResponse struct {
	ID                    string              `json:"id"`
	Status                domain.TicketStatus `json:"status"`
	Summary               string              `json:"summary"`
	ProblemDescription    string              `json:"problem_description"`
	EstimatedTime         string              `json:"estimated_time"`
	CreatedBy             ProfileRefResponse  `json:"created_by"`
	AssignedTo            *ProfileRefResponse `json:"assigned_to,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	ClaimedAt             *time.Time          `json:"claimed_at,omitempty"`
	MarkedAsFixedAt       *time.Time          `json:"marked_as_fixed_at,omitempty"`
	AutoCompleteTimeoutAt *time.Time          `json:"auto_complete_timeout_at,omitempty"`
	ResolvedAt            *time.Time          `json:"resolved_at,omitempty"`
	AbandonedAt           *time.Time          `json:"abandoned_at,omitempty"`
	ElapsedTime           int                 `json:"elapsed_time"`
	// RemainingSeconds counts down to auto-completion while awaiting confirmation.
	RemainingSeconds *int64    `json:"remaining_seconds,omitempty"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TicketChangeResponse is one history entry.
type TicketChangeResponse struct {
	ID         string               `json:"id"`
	ActorType  domain.ProfileType   `json:"actor_type"`
	ActorID    string               `json:"actor_id"`
	FromStatus *domain.TicketStatus `json:"from_status,omitempty"`
	ToStatus   domain.TicketStatus  `json:"to_status"`
	Action     domain.TicketAction  `json:"action"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Pagination echoes the page that was served.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
