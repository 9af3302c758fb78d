package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const (
	defaultSchedule  = "@every 30s"
	defaultBatchSize = 100
)

// AutoCompleter fires the timeout transition. The ticket manager bound to
// a system profile satisfies it.
type AutoCompleter interface {
	AutoCompleteTicket(ctx context.Context, id string) (*domain.Ticket, error)
}

// DueLister finds tickets whose confirmation window has elapsed.
type DueLister interface {
	ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
}

// Dependencies bundles scheduler collaborators.
type Dependencies struct {
	Completer  AutoCompleter
	Tickets    DueLister
	Dispatcher events.Dispatcher
	// Schedule is a cron spec for the catch-up sweep.
	Schedule  string
	BatchSize int
	Now       func() time.Time
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// DeadlineScheduler is the only component that fires AutoCompleteTicket.
// It keeps one timer per awaiting-confirmation ticket, driven by ticket
// events, and a cron sweep that catches deadlines missed while no timer
// was armed. A firing that lost the race to a user action is a no-op in
// the manager.
type DeadlineScheduler struct {
	completer  AutoCompleter
	tickets    DueLister
	dispatcher events.Dispatcher
	schedule   string
	batchSize  int
	now        func() time.Time
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	timers  map[string]armedTimer
	gen     uint64
	cron    *cron.Cron
	sub     events.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

type armedTimer struct {
	timer    *time.Timer
	gen      uint64
	deadline time.Time
}

// NewDeadlineScheduler constructs an idle scheduler.
func NewDeadlineScheduler(deps Dependencies) *DeadlineScheduler {
	schedule := deps.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadlineScheduler{
		completer:  deps.Completer,
		tickets:    deps.Tickets,
		dispatcher: deps.Dispatcher,
		schedule:   schedule,
		batchSize:  batch,
		now:        now,
		logger:     logger,
		metrics:    deps.Metrics,
		timers:     make(map[string]armedTimer),
	}
}

// Start subscribes to ticket events, starts the sweep schedule and runs
// one sweep immediately.
func (s *DeadlineScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.runSweep); err != nil {
		s.cancel()
		return fmt.Errorf("deadline sweep schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	if s.dispatcher != nil {
		s.sub = s.dispatcher.SubscribeAll(s.handleEvent)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("deadline scheduler started", zap.String("schedule", s.schedule))

	// deadlines that passed while nothing was listening
	go s.runSweep()
	return nil
}

// Stop halts the sweep, waits for a running sweep to finish and disarms
// every timer.
func (s *DeadlineScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.dispatcher != nil {
		s.dispatcher.Unsubscribe(s.sub)
	}
	c, cancel := s.cron, s.cancel
	for id, armed := range s.timers {
		armed.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.logger.Info("deadline scheduler stopped")
}

// Sweep auto-completes every overdue ticket and reports how many closed.
func (s *DeadlineScheduler) Sweep(ctx context.Context) (int, error) {
	due, err := s.tickets.ListDueForAutoComplete(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}
	completed := 0
	for i := range due {
		if s.complete(ctx, due[i].ID) {
			completed++
		}
	}
	s.metrics.RecordAutoComplete(completed)
	return completed, nil
}

// Armed reports the deadline currently armed for a ticket.
func (s *DeadlineScheduler) Armed(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	armed, ok := s.timers[id]
	return armed.deadline, ok
}

// ArmedCount reports how many timers are armed.
func (s *DeadlineScheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *DeadlineScheduler) runSweep() {
	ctx := s.context()
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Warn("deadline sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("deadline sweep auto-completed tickets", zap.Int("count", n))
	}
}

func (s *DeadlineScheduler) handleEvent(_ context.Context, event events.Event) error {
	switch event.Type {
	case events.EventTicketsCleared:
		s.disarmAll()
	case events.EventTicketCreated, events.EventTicketUpdated:
		ticket := event.Ticket
		if ticket == nil {
			return nil
		}
		if ticket.Status == domain.TicketStatusAwaitingConfirmation && ticket.AutoCompleteTimeoutAt != nil {
			s.arm(ticket.ID, *ticket.AutoCompleteTimeoutAt)
		} else {
			s.disarm(ticket.ID)
		}
	}
	return nil
}

func (s *DeadlineScheduler) arm(id string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if existing, ok := s.timers[id]; ok {
		if existing.deadline.Equal(deadline) {
			return
		}
		existing.timer.Stop()
	}
	delay := deadline.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	s.timers[id] = armedTimer{
		timer:    time.AfterFunc(delay, func() { s.fire(id, gen) }),
		gen:      gen,
		deadline: deadline,
	}
}

func (s *DeadlineScheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if armed, ok := s.timers[id]; ok {
		armed.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *DeadlineScheduler) disarmAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, armed := range s.timers {
		armed.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *DeadlineScheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	armed, ok := s.timers[id]
	if !ok || armed.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	if s.complete(s.context(), id) {
		s.metrics.RecordAutoComplete(1)
	}
}

// complete reports whether the ticket ended up auto-completed.
func (s *DeadlineScheduler) complete(ctx context.Context, id string) bool {
	ticket, err := s.completer.AutoCompleteTicket(ctx, id)
	switch {
	case err == nil:
		return ticket.Status == domain.TicketStatusAutoCompleted
	case errors.Is(err, apperrors.ErrNotFound):
		s.logger.Debug("deadline fired for missing ticket", zap.String("ticket_id", id))
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Warn("auto-complete ticket", zap.String("ticket_id", id), zap.Error(err))
	}
	return false
}

func (s *DeadlineScheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// RemainingTime is the presentation countdown to a ticket's auto-complete
// deadline, clamped at zero.
func RemainingTime(ticket *domain.Ticket, now time.Time) time.Duration {
	if ticket == nil || ticket.AutoCompleteTimeoutAt == nil {
		return 0
	}
	remaining := ticket.AutoCompleteTimeoutAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
