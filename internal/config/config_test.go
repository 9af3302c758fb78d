package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, TransportMemory, cfg.Events.Transport)
	assert.Equal(t, 1800, cfg.Lifecycle.AutoCompleteTimeoutSeconds)
	assert.Equal(t, 30*time.Minute, cfg.Lifecycle.AutoCompleteTimeout())
	assert.Equal(t, 3, cfg.Lifecycle.MaxActiveTickets)
	assert.Equal(t, domain.TicketStatusPendingPayment, cfg.Lifecycle.ResolutionStatus)
	assert.Equal(t, "@every 30s", cfg.Lifecycle.SweepSchedule)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 3, cfg.Redis.ReadTimeoutSec)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("EVENTS_TRANSPORT", "redis")
	t.Setenv("LIFECYCLE_RESOLUTION_STATUS", "completed")
	t.Setenv("LIFECYCLE_MAX_ACTIVE_TICKETS", "5")
	t.Setenv("HTTP_REQUEST_TIMEOUT_SECONDS", "0")
	t.Setenv("REDIS_POOL_SIZE", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, TransportRedis, cfg.Events.Transport)
	assert.Equal(t, domain.TicketStatusCompleted, cfg.Lifecycle.ResolutionStatus)
	assert.Equal(t, 5, cfg.Lifecycle.MaxActiveTickets)
	assert.Zero(t, cfg.App.RequestTimeout())
	assert.Equal(t, 4, cfg.Redis.PoolSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"STORE_DRIVER":                "sqlite",
		"EVENTS_TRANSPORT":            "kafka",
		"LIFECYCLE_RESOLUTION_STATUS": "auto-completed",
		"REDIS_DB":                    "zero",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
	t.Setenv("SOME_BOOL", "maybe")
	assert.True(t, getEnvAsBool("SOME_BOOL", true))
}
