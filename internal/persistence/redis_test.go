package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
)

func TestNewRedisAppliesPoolAndTimeouts(t *testing.T) {
	server := miniredis.RunT(t)
	rdb, err := NewRedis(context.Background(), config.RedisConfig{
		Addr:            server.Addr(),
		PoolSize:        4,
		MinIdleConns:    2,
		ReadTimeoutSec:  7,
		WriteTimeoutSec: 8,
		ConnMaxIdleSec:  60,
	}, zap.NewNop())
	require.NoError(t, err)
	defer rdb.Close()

	opts := rdb.Client.Options()
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, 2, opts.MinIdleConns)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 7*time.Second, opts.ReadTimeout)
	assert.Equal(t, 8*time.Second, opts.WriteTimeout)
	assert.Equal(t, time.Minute, opts.ConnMaxIdleTime)
	assert.True(t, opts.ContextTimeoutEnabled)
	assert.NoError(t, rdb.Ping(context.Background()))
}

func TestNewRedisFailsWhenUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := NewRedis(context.Background(), config.RedisConfig{Addr: addr, DialTimeoutSec: 1}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")

	_, err = NewRedis(context.Background(), config.RedisConfig{}, zap.NewNop())
	assert.Error(t, err)

	var missing *Redis
	assert.Error(t, missing.Ping(context.Background()))
}
