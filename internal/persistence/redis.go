package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
)

// Redis wraps the go-redis client that carries ticket events.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client for the event transport and verifies the server
// answers. Command timeouts bound publishes and pings; the Pub/Sub
// connection blocks on reads without a deadline and is kept alive by
// go-redis health checks, so idle reaping only touches the command pool.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("REDIS_ADDR is required for the redis event transport")
	}

	client := redis.NewClient(redisOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, seconds(cfg.DialTimeoutSec, 5*time.Second))
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("pool_size", cfg.PoolSize))
	return &Redis{Client: client}, nil
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ClientName:            "ticket-lifecycle",
		DialTimeout:           seconds(cfg.DialTimeoutSec, 5*time.Second),
		ReadTimeout:           seconds(cfg.ReadTimeoutSec, 3*time.Second),
		WriteTimeout:          seconds(cfg.WriteTimeoutSec, 3*time.Second),
		ContextTimeoutEnabled: true,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.ConnMaxIdleSec > 0 {
		opts.ConnMaxIdleTime = time.Duration(cfg.ConnMaxIdleSec) * time.Second
	}
	return opts
}

func seconds(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}

// Close closes the client and its Pub/Sub connections.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
