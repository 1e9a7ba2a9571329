package session

import (
	"context"
	"log/slog"
	"time"

	"voicecall-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// CapacityLimiter caps concurrent calls per deployment. Optional: a nil
// limiter on the Service disables capping entirely.
type CapacityLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

const callCapKey = "calls:active"

// RedisCallCap implements CapacityLimiter on the shared atomic Redis counter.
// The TTL bounds slot leakage after a crash; a released-twice slot is floored
// at zero by the release script, which keeps duplicate teardowns harmless.
type RedisCallCap struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
	log   *slog.Logger
}

func NewRedisCallCap(rdb *redis.Client, limit int, ttl time.Duration, log *slog.Logger) *RedisCallCap {
	if log == nil {
		log = slog.Default()
	}
	return &RedisCallCap{rdb: rdb, limit: limit, ttl: ttl, log: log}
}

func (c *RedisCallCap) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, c.rdb, callCapKey, c.limit, c.ttl)
}

func (c *RedisCallCap) Release(ctx context.Context) {
	if err := utils.ReleaseConcurrencyCap(ctx, c.rdb, callCapKey); err != nil {
		c.log.Warn("call cap release failed", "err", err)
	}
}
