package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

func TestMetricsCountTransitionsAndAutoCompletes(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordTransition("", "waiting")
	metrics.RecordTransition("waiting", "in-progress")
	metrics.RecordTransition("waiting", "in-progress")
	metrics.RecordAutoComplete(2)
	metrics.RecordAutoComplete(0)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Transitions["none->waiting"])
	assert.Equal(t, int64(2), snap.Transitions["waiting->in-progress"])
	assert.Equal(t, int64(2), snap.AutoCompleted)

	snap.Transitions["none->waiting"] = 99
	assert.Equal(t, int64(1), metrics.Snapshot().Transitions["none->waiting"])
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var metrics *Metrics
	metrics.RecordRequest("/", fiber.MethodGet, 200, 0)
	metrics.RecordTransition("a", "b")
	metrics.RecordAutoComplete(1)
	assert.Equal(t, MetricsSnapshot{}, metrics.Snapshot())
}

func TestRequestLoggerRecordsRouteAndErrorStatus(t *testing.T) {
	metrics := NewMetrics()
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(apperrors.ToDomainError(err).HTTPStatus).SendString("")
		},
	})
	app.Use(RequestLogger(zap.NewNop(), metrics))
	app.Get("/tickets/:id", func(c *fiber.Ctx) error {
		return apperrors.NewNotFound("ticket", nil)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/tickets/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int64(1), metrics.Snapshot().Requests["/tickets/:id|GET|404"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "chatty"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = NewLogger(config.LoggerConfig{Level: "DEBUG"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
