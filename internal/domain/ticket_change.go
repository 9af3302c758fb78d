package domain

import "time"

// TicketAction names the lifecycle operation that produced a change.
type TicketAction string

const (
	ActionCreate       TicketAction = "create"
	ActionClaim        TicketAction = "claim"
	ActionMarkFixed    TicketAction = "mark_fixed"
	ActionResolve      TicketAction = "resolve"
	ActionStillBroken  TicketAction = "still_broken"
	ActionAutoComplete TicketAction = "auto_complete"
	ActionAbandon      TicketAction = "abandon"
)

// TicketChange is an immutable audit trail entry for a status transition.
type TicketChange struct {
	ID         string
	TicketID   string
	ActorType  ProfileType
	ActorID    string
	FromStatus *TicketStatus
	ToStatus   TicketStatus
	Action     TicketAction
	CreatedAt  time.Time
}
