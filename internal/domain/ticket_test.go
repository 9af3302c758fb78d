package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeTruncatesLongDescriptions(t *testing.T) {
	description := "App crashes on startup when network is offline and the retry logic loops forever"

	summary := Summarize(description)

	assert.Equal(t, description[:50]+"...", summary)
	assert.Equal(t, "short", Summarize("short"))
	assert.Equal(t, strings.Repeat("x", 50), Summarize(strings.Repeat("x", 50)))
}

func TestSummarizeCountsRunes(t *testing.T) {
	description := strings.Repeat("é", 60)

	summary := Summarize(description)

	assert.Equal(t, strings.Repeat("é", 50)+"...", summary)
}

func TestParseTicketStatus(t *testing.T) {
	for _, status := range AllTicketStatuses {
		parsed, err := ParseTicketStatus(string(status))
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}

	_, err := ParseTicketStatus("closed")
	assert.Error(t, err)
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, TicketStatusInProgress.IsActive())
	assert.True(t, TicketStatusAwaitingConfirmation.IsActive())
	assert.False(t, TicketStatusWaiting.IsActive())

	assert.True(t, TicketStatusCompleted.IsTerminal())
	assert.True(t, TicketStatusAutoCompleted.IsTerminal())
	assert.True(t, TicketStatusPendingPayment.IsTerminal())
	assert.False(t, TicketStatusAwaitingConfirmation.IsTerminal())

	assert.True(t, TicketStatusPendingPayment.IsPayoutBoundary())
	assert.False(t, TicketStatusMarkedResolved.IsPayoutBoundary())
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	original := &Ticket{
		ID:         "t-1",
		Status:     TicketStatusInProgress,
		AssignedTo: &ProfileRef{ID: "E1"},
		ClaimedAt:  &now,
	}

	cp := original.Clone()
	cp.AssignedTo.ID = "E2"
	*cp.ClaimedAt = now.Add(time.Hour)

	assert.Equal(t, "E1", original.AssignedTo.ID)
	assert.Equal(t, now, *original.ClaimedAt)
	assert.Nil(t, (*Ticket)(nil).Clone())
}

func TestValidateAssigneeInvariant(t *testing.T) {
	waiting := &Ticket{ID: "t", Status: TicketStatusWaiting}
	assert.NoError(t, waiting.Validate())

	waiting.AssignedTo = &ProfileRef{ID: "E1"}
	assert.Error(t, waiting.Validate())

	claimed := &Ticket{ID: "t", Status: TicketStatusInProgress}
	assert.Error(t, claimed.Validate())

	claimed.AssignedTo = &ProfileRef{ID: "E1"}
	assert.NoError(t, claimed.Validate())

	claimed.MarkedAsFixedAt = TimePtr(time.Now())
	assert.Error(t, claimed.Validate())

	bogus := &Ticket{ID: "t", Status: "closed"}
	assert.Error(t, bogus.Validate())
}

func TestNewProfile(t *testing.T) {
	customer, ok := NewProfile("C1", "Carol", ProfileTypeCustomer)
	require.True(t, ok)
	assert.IsType(t, CustomerProfile{}, customer)
	assert.Equal(t, ProfileRef{ID: "C1", Name: "Carol"}, customer.Ref())

	engineer, ok := NewProfile("E1", "", ProfileTypeEngineer)
	require.True(t, ok)
	assert.Equal(t, ProfileTypeEngineer, engineer.Type())

	_, ok = NewProfile("S1", "", ProfileTypeSystem)
	assert.False(t, ok)
}
