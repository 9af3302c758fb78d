package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Events         *handlers.EventsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	protected := app.Group("", cfg.AuthMiddleware.Handle)
	protected.Get("/events", cfg.Events.Stream)

	tickets := protected.Group("/tickets")
	tickets.Post("/", auth.RequireCustomer(), cfg.Tickets.CreateTicket)
	tickets.Get("/active", auth.RequireCustomer(), cfg.Tickets.GetActiveTicket)
	tickets.Get("/waiting", auth.RequireEngineer(), cfg.Tickets.ListWaitingTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.GetHistory)
	tickets.Post("/:id/claim", auth.RequireEngineer(), cfg.Tickets.ClaimTicket)
	tickets.Post("/:id/fix", auth.RequireEngineer(), cfg.Tickets.MarkAsFixed)
	tickets.Post("/:id/resolve", cfg.Tickets.MarkAsResolved)
	tickets.Post("/:id/reject", auth.RequireCustomer(), cfg.Tickets.MarkStillBroken)
	tickets.Post("/:id/abandon", auth.RequireEngineer(), cfg.Tickets.AbandonTicket)

	engineer := protected.Group("/engineer", auth.RequireEngineer())
	engineer.Get("/tickets", cfg.Tickets.ListEngineerTickets)
}
