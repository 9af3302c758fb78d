package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/scheduler"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
)

type billingEndpoint struct {
	mu      sync.Mutex
	signals []service.BillingSignal
}

func (b *billingEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var signal service.BillingSignal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.signals = append(b.signals, signal)
	b.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (b *billingEndpoint) received() []service.BillingSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]service.BillingSignal(nil), b.signals...)
}

func TestBillingBoundaryIsDeliveredOnce(t *testing.T) {
	endpoint := &billingEndpoint{}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := events.NewInMemoryDispatcher(nil)
	notifier := events.NewNotifier(events.NotifierDependencies{Dispatcher: dispatcher})
	tickets := repository.NewNotifyingTicketRepository(repository.NewMemoryTicketRepository(), notifier)

	webhooks := NewWebhookWorker(server.Client(), nil)
	defer webhooks.Stop()
	observer := service.NewLifecycleObserver(dispatcher, nil, config.NotificationConfig{WebhookURL: server.URL}, webhooks)
	deadlines := scheduler.NewDeadlineScheduler(scheduler.Dependencies{
		Completer:  service.NewTicketManager(domain.SystemProfile{Name: "deadline-scheduler"}, service.ManagerDependencies{TicketRepo: tickets}),
		Tickets:    tickets,
		Dispatcher: dispatcher,
		Schedule:   "@every 1h",
	})
	require.NoError(t, StartLifecycleWorkers(ctx, observer, webhooks, deadlines))
	defer deadlines.Stop()

	deps := service.ManagerDependencies{TicketRepo: tickets}
	customer := service.NewTicketManager(domain.CustomerProfile{ID: "C1"}, deps)
	engineer := service.NewTicketManager(domain.EngineerProfile{ID: "E1"}, deps)

	ticket, err := customer.CreateTicket(ctx, service.TicketCreateInput{ProblemDescription: "no sound"})
	require.NoError(t, err)
	_, err = engineer.ClaimTicket(ctx, ticket.ID)
	require.NoError(t, err)
	_, err = engineer.MarkAsFixed(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deadlines.ArmedCount())

	_, err = customer.MarkAsResolved(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Zero(t, deadlines.ArmedCount())

	require.Eventually(t, func() bool { return len(endpoint.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	signal := endpoint.received()[0]
	assert.Equal(t, ticket.ID, signal.TicketID)
	assert.Equal(t, string(domain.TicketStatusPendingPayment), signal.Status)
	assert.Equal(t, "E1", signal.EngineerID)
	assert.Equal(t, "C1", signal.CustomerID)
	assert.False(t, signal.ResolvedAt.IsZero())

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, endpoint.received(), 1)
}

func TestObserverIgnoresRemoteBoundaryEvents(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	sender := &recordingSender{}
	observer := service.NewLifecycleObserver(dispatcher, nil, config.NotificationConfig{WebhookURL: "http://billing.local/hook"}, sender)
	observer.RegisterHandlers()

	resolved := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	ticket := &domain.Ticket{
		ID:         "t-1",
		Status:     domain.TicketStatusAutoCompleted,
		CreatedBy:  domain.ProfileRef{ID: "C1"},
		AssignedTo: &domain.ProfileRef{ID: "E1"},
		ResolvedAt: &resolved,
	}
	remote := events.TicketUpdated(ticket)
	remote.Remote = true
	require.NoError(t, dispatcher.Publish(context.Background(), remote))
	assert.Empty(t, sender.urls)

	require.NoError(t, dispatcher.Publish(context.Background(), events.TicketUpdated(ticket)))
	assert.Equal(t, []string{"http://billing.local/hook"}, sender.urls)
}

func TestWebhookWorkerRejectsAfterStop(t *testing.T) {
	webhooks := NewWebhookWorker(nil, nil)
	webhooks.Start(context.Background())
	webhooks.Stop()
	assert.False(t, webhooks.Enqueue("http://billing.local/hook", service.BillingSignal{TicketID: "t-1"}))
}

type recordingSender struct {
	urls []string
}

func (s *recordingSender) Enqueue(url string, _ service.BillingSignal) bool {
	s.urls = append(s.urls, url)
	return true
}
