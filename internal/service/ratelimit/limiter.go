package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter enforces per-client fixed-window limits backed by Redis. It fails
// open: when Redis is absent or erroring, requests pass so an infrastructure
// wobble never locks visitors out.
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
	log    *zap.Logger
}

// NewLimiter wires the limiter. rdb may be nil when Redis is not configured.
func NewLimiter(rdb *redis.Client, window time.Duration, log *zap.Logger) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{rdb: rdb, window: window, log: log}
}

// Allow reports whether clientKey may make another request against bucket
// this window, and how long until the window resets when it may not.
func (l *Limiter) Allow(ctx context.Context, clientKey, bucket string, limit int) (bool, time.Duration) {
	if l.rdb == nil || limit <= 0 {
		return true, 0
	}

	windowStart := time.Now().Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("rate:%s:%s:%d", bucket, clientKey, windowStart)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limit check failed, allowing request",
			zap.String("bucket", bucket), zap.Error(err))
		return true, 0
	}

	if incr.Val() > int64(limit) {
		retryAfter := time.Duration((windowStart+1)*int64(l.window.Seconds())-time.Now().Unix()) * time.Second
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}
	return true, 0
}
