// Package health provides health check implementations for external dependencies.
package health

import (
	"context"
	"time"

	"github.com/onnwee/orbit/internal/tracing"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTimeout bounds a single PING when the caller has no deadline.
const DefaultRedisTimeout = 2 * time.Second

// Pinger is the subset of redis.UniversalClient used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker implements health checking for Redis.
type RedisChecker struct {
	client  Pinger
	timeout time.Duration
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client Pinger) *RedisChecker {
	return &RedisChecker{
		client:  client,
		timeout: DefaultRedisTimeout,
	}
}

// HealthCheck performs a health check on Redis by sending a PING command.
func (r *RedisChecker) HealthCheck(ctx context.Context) (err error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ctx, endSpan := tracing.StartStoreSpan(ctx, "redis", tracing.StoreOperationPing, "")
	defer func() { endSpan(err) }()

	return r.client.Ping(ctx).Err()
}
