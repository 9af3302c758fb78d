package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

type capturingNotifier struct {
	events []events.Event
}

func (n *capturingNotifier) Notify(_ context.Context, event events.Event) {
	n.events = append(n.events, event)
}

func TestNotifyingRepositoryEmitsAfterSuccessfulWrites(t *testing.T) {
	notifier := &capturingNotifier{}
	repo := NewNotifyingTicketRepository(NewMemoryTicketRepository(), notifier)
	ctx := context.Background()

	created, err := repo.Create(ctx, newWaitingTicket("C1", "laptop will not boot"))
	require.NoError(t, err)

	claimed := created.Clone()
	claimed.Status = domain.TicketStatusInProgress
	claimed.AssignedTo = &domain.ProfileRef{ID: "E1"}
	updated, err := repo.Update(ctx, created.ID, claimed)
	require.NoError(t, err)

	// stale version: no event
	_, err = repo.Update(ctx, created.ID, claimed)
	require.Error(t, err)

	require.NoError(t, repo.Clear(ctx))

	require.Len(t, notifier.events, 3)
	assert.Equal(t, events.EventTicketCreated, notifier.events[0].Type)
	assert.Equal(t, created.ID, notifier.events[0].TicketID)
	assert.Equal(t, events.EventTicketUpdated, notifier.events[1].Type)
	assert.Equal(t, updated.Version, notifier.events[1].Ticket.Version)
	assert.Equal(t, events.EventTicketsCleared, notifier.events[2].Type)

	// the event carries its own copy
	notifier.events[1].Ticket.Status = domain.TicketStatusCompleted
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
}

func TestCachedRepositoryServesReadsFromView(t *testing.T) {
	clock := newTestClock()
	inner := newMemoryTicketRepository(clock.Now)
	seed(t, inner, clock, newWaitingTicket("C1", "one"), newWaitingTicket("C2", "two"))

	cached := NewCachedTicketRepository(inner, nil)
	ctx := context.Background()

	all, err := cached.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "view is empty until reloaded")

	require.NoError(t, cached.Reload(ctx))
	waiting, err := cached.ListByStatus(ctx, ByStatus(0, 0, domain.TicketStatusWaiting))
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "two", waiting[0].ProblemDescription)

	created, err := cached.Create(ctx, newWaitingTicket("C3", "three"))
	require.NoError(t, err)
	fromView, ok, err := cached.view.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.Version, fromView.Version)
}

func TestCachedRepositoryRefreshesStaleEntryOnConflict(t *testing.T) {
	clock := newTestClock()
	inner := newMemoryTicketRepository(clock.Now)
	cached := NewCachedTicketRepository(inner, nil)
	ctx := context.Background()

	created, err := cached.Create(ctx, newWaitingTicket("C1", "printer"))
	require.NoError(t, err)

	// another context claims the ticket behind the cache's back
	remote := created.Clone()
	remote.Status = domain.TicketStatusInProgress
	remote.AssignedTo = &domain.ProfileRef{ID: "E2"}
	_, err = inner.Update(ctx, created.ID, remote)
	require.NoError(t, err)

	stale, _, err := cached.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusWaiting, stale.Status)

	stale.Status = domain.TicketStatusInProgress
	stale.AssignedTo = &domain.ProfileRef{ID: "E1"}
	_, err = cached.Update(ctx, created.ID, stale)
	require.True(t, errors.Is(err, apperrors.ErrConflict))

	fresh, _, err := cached.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "E2", fresh.AssignedTo.ID)
	assert.Equal(t, int64(2), fresh.Version)
}

func TestGetFreshBypassesStaleView(t *testing.T) {
	clock := newTestClock()
	inner := newMemoryTicketRepository(clock.Now)
	cached := NewCachedTicketRepository(inner, nil)
	notifying := NewNotifyingTicketRepository(cached, &capturingNotifier{})
	ctx := context.Background()

	created, err := cached.Create(ctx, newWaitingTicket("C1", "scanner"))
	require.NoError(t, err)
	remote := created.Clone()
	remote.Status = domain.TicketStatusInProgress
	remote.AssignedTo = &domain.ProfileRef{ID: "E2"}
	_, err = inner.Update(ctx, created.ID, remote)
	require.NoError(t, err)

	fresh, ok, err := ReadFresh(ctx, notifying, created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TicketStatusInProgress, fresh.Status)

	// the view picked up the fresh copy
	viewed, _, err := cached.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), viewed.Version)

	require.NoError(t, inner.Clear(ctx))
	_, ok, err = cached.GetFresh(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = cached.view.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// stores without a view fall back to Get
	_, ok, err = ReadFresh(ctx, inner, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedRepositoryApplyRemote(t *testing.T) {
	clock := newTestClock()
	inner := newMemoryTicketRepository(clock.Now)
	cached := NewCachedTicketRepository(inner, nil)
	ctx := context.Background()

	created, err := inner.Create(ctx, newWaitingTicket("C1", "wifi"))
	require.NoError(t, err)
	cached.ApplyRemote(ctx, events.Event{Type: events.EventTicketCreated, TicketID: created.ID, Ticket: created})

	newer := created.Clone()
	newer.Version = 3
	newer.Status = domain.TicketStatusInProgress
	newer.AssignedTo = &domain.ProfileRef{ID: "E1"}
	cached.ApplyRemote(ctx, events.Event{Type: events.EventTicketUpdated, TicketID: created.ID, Ticket: newer})

	// out-of-date delivery is ignored
	cached.ApplyRemote(ctx, events.Event{Type: events.EventTicketUpdated, TicketID: created.ID, Ticket: created})

	got, ok, err := cached.view.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Version)

	cached.ApplyRemote(ctx, events.Event{Type: events.EventTicketsCleared})
	all, err := cached.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, inner.Clear(ctx))
	cached.Invalidate(ctx, created.ID)
	_, ok, err = cached.view.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
