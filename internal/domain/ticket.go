package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusWaiting              TicketStatus = "waiting"
	TicketStatusInProgress           TicketStatus = "in-progress"
	TicketStatusAwaitingConfirmation TicketStatus = "awaiting-confirmation"
	TicketStatusMarkedResolved       TicketStatus = "marked-resolved"
	TicketStatusPendingPayment       TicketStatus = "pending-payment"
	TicketStatusCompleted            TicketStatus = "completed"
	TicketStatusAutoCompleted        TicketStatus = "auto-completed"
)

// AllTicketStatuses lists the closed status enum in lifecycle order.
var AllTicketStatuses = []TicketStatus{
	TicketStatusWaiting,
	TicketStatusInProgress,
	TicketStatusAwaitingConfirmation,
	TicketStatusMarkedResolved,
	TicketStatusPendingPayment,
	TicketStatusCompleted,
	TicketStatusAutoCompleted,
}

// ActiveTicketStatuses count against an engineer's capacity.
var ActiveTicketStatuses = []TicketStatus{
	TicketStatusInProgress,
	TicketStatusAwaitingConfirmation,
}

// NonTerminalTicketStatuses are the statuses a customer's open ticket can be in.
var NonTerminalTicketStatuses = []TicketStatus{
	TicketStatusWaiting,
	TicketStatusInProgress,
	TicketStatusAwaitingConfirmation,
}

// ParseTicketStatus validates a raw status string against the closed enum.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	candidate := TicketStatus(strings.TrimSpace(raw))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown ticket status %q", raw)
}

// Valid reports whether s is one of the defined statuses.
func (s TicketStatus) Valid() bool {
	for _, known := range AllTicketStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s TicketStatus) IsTerminal() bool {
	switch s {
	case TicketStatusCompleted, TicketStatusAutoCompleted, TicketStatusPendingPayment, TicketStatusMarkedResolved:
		return true
	default:
		return false
	}
}

// IsActive reports whether s counts against engineer capacity.
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusInProgress || s == TicketStatusAwaitingConfirmation
}

// IsPayoutBoundary reports whether reaching s hands the ticket to billing.
func (s TicketStatus) IsPayoutBoundary() bool {
	return s == TicketStatusCompleted || s == TicketStatusPendingPayment || s == TicketStatusAutoCompleted
}

// ProfileRef weakly references a profile owned by the identity provider.
type ProfileRef struct {
	ID   string `json:"id" bson:"id"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// Ticket is the aggregate for a single support request.
type Ticket struct {
	ID                    string       `json:"id" bson:"_id"`
	Status                TicketStatus `json:"status" bson:"status"`
	Summary               string       `json:"summary" bson:"summary"`
	ProblemDescription    string       `json:"problemDescription" bson:"problem_description"`
	EstimatedTime         string       `json:"estimatedTime" bson:"estimated_time"`
	CreatedBy             ProfileRef   `json:"createdBy" bson:"created_by"`
	AssignedTo            *ProfileRef  `json:"assignedTo,omitempty" bson:"assigned_to,omitempty"`
	CreatedAt             time.Time    `json:"createdAt" bson:"created_at"`
	ClaimedAt             *time.Time   `json:"claimedAt,omitempty" bson:"claimed_at,omitempty"`
	MarkedAsFixedAt       *time.Time   `json:"markedAsFixedAt,omitempty" bson:"marked_as_fixed_at,omitempty"`
	AutoCompleteTimeoutAt *time.Time   `json:"autoCompleteTimeoutAt,omitempty" bson:"auto_complete_timeout_at,omitempty"`
	ResolvedAt            *time.Time   `json:"resolvedAt,omitempty" bson:"resolved_at,omitempty"`
	AbandonedAt           *time.Time   `json:"abandonedAt,omitempty" bson:"abandoned_at,omitempty"`
	ElapsedTime           int          `json:"elapsedTime" bson:"elapsed_time"`
	Version               int64        `json:"version" bson:"version"`
	UpdatedAt             time.Time    `json:"updatedAt" bson:"updated_at"`
}

// SummaryMaxLength bounds the derived summary before the ellipsis.
const SummaryMaxLength = 50

// Summarize derives the ticket summary from a problem description.
func Summarize(description string) string {
	runes := []rune(description)
	if len(runes) <= SummaryMaxLength {
		return description
	}
	return string(runes[:SummaryMaxLength]) + "..."
}

// IsAssignedTo reports whether the ticket is held by the given engineer.
func (t *Ticket) IsAssignedTo(engineerID string) bool {
	return t.AssignedTo != nil && t.AssignedTo.ID == engineerID
}

// Clone returns a deep copy so callers never share pointers with storage.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.AssignedTo != nil {
		ref := *t.AssignedTo
		cp.AssignedTo = &ref
	}
	cp.ClaimedAt = cloneTime(t.ClaimedAt)
	cp.MarkedAsFixedAt = cloneTime(t.MarkedAsFixedAt)
	cp.AutoCompleteTimeoutAt = cloneTime(t.AutoCompleteTimeoutAt)
	cp.ResolvedAt = cloneTime(t.ResolvedAt)
	cp.AbandonedAt = cloneTime(t.AbandonedAt)
	return &cp
}

// Validate checks the status enum and the assignee invariant.
func (t *Ticket) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("ticket %s: unknown status %q", t.ID, t.Status)
	}
	if t.Status == TicketStatusWaiting && t.AssignedTo != nil {
		return fmt.Errorf("ticket %s: waiting ticket must not be assigned", t.ID)
	}
	if t.Status != TicketStatusWaiting && t.AssignedTo == nil {
		return fmt.Errorf("ticket %s: %s ticket must be assigned", t.ID, t.Status)
	}
	if (t.MarkedAsFixedAt == nil) != (t.AutoCompleteTimeoutAt == nil) {
		return fmt.Errorf("ticket %s: fix timestamps must be set together", t.ID)
	}
	return nil
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
