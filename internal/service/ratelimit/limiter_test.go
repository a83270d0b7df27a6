package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAllowWithoutRedisFailsOpen(t *testing.T) {
	l := NewLimiter(nil, time.Minute, zap.NewNop())

	ok, retryAfter := l.Allow(context.Background(), "1.2.3.4", "chat", 5)

	assert.True(t, ok)
	assert.Zero(t, retryAfter)
}

func TestAllowWithUnreachableRedisFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	l := NewLimiter(rdb, time.Minute, zap.NewNop())

	ok, _ := l.Allow(context.Background(), "1.2.3.4", "chat", 5)

	assert.True(t, ok)
}

func TestAllowZeroLimitDisablesBucket(t *testing.T) {
	l := NewLimiter(nil, time.Minute, zap.NewNop())

	ok, _ := l.Allow(context.Background(), "1.2.3.4", "chat", 0)

	assert.True(t, ok)
}
