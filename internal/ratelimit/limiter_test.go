package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespulse/sp-ingest/internal/config"
	"github.com/salespulse/sp-ingest/internal/logger"
	"github.com/salespulse/sp-ingest/internal/ratelimit"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	m.Run()
}

// fakeClock pins time for deterministic window math
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                  { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }
func (c *fakeClock) Unix(sec, nsec int64) time.Time  { return time.Unix(sec, nsec) }

// fakeRedisLimiter scripts the distributed limiter's responses
type fakeRedisLimiter struct {
	result *redis_rate.Result
	err    error

	calls []fakeCall
}

type fakeCall struct {
	key   string
	limit redis_rate.Limit
}

func (f *fakeRedisLimiter) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	f.calls = append(f.calls, fakeCall{key: key, limit: limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newLimiter(distributed *fakeRedisLimiter, perMinuteDefault int) ratelimit.Limiter {
	return ratelimit.NewLimiter(distributed, &fakeClock{now: time.Unix(1_700_000_000, 0)}, config.RateLimitConfig{
		DefaultPerMinute: perMinuteDefault,
		KeyPrefix:        "test:limiter:",
		PreFilterBurst:   1000,
	})
}

func TestAllow_Admits(t *testing.T) {
	distributed := &fakeRedisLimiter{
		result: &redis_rate.Result{Allowed: 1, Remaining: 59, ResetAfter: 30 * time.Second},
	}
	limiter := newLimiter(distributed, 60)

	result := limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 0)

	assert.True(t, result.Allowed)
	assert.Equal(t, 60, result.Limit)
	assert.Equal(t, 59, result.Remaining)
	assert.False(t, result.FailedClosed)

	require.Len(t, distributed.calls, 1)
	assert.Equal(t, "test:limiter:conn-1:203.0.113.9", distributed.calls[0].key)
	assert.Equal(t, 60, distributed.calls[0].limit.Rate)
}

func TestAllow_ConnectionOverrideWins(t *testing.T) {
	distributed := &fakeRedisLimiter{
		result: &redis_rate.Result{Allowed: 1, Remaining: 9},
	}
	limiter := newLimiter(distributed, 60)

	result := limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 10)

	assert.True(t, result.Allowed)
	assert.Equal(t, 10, result.Limit)
	require.Len(t, distributed.calls, 1)
	assert.Equal(t, 10, distributed.calls[0].limit.Rate)
}

func TestAllow_RejectsWhenWindowExhausted(t *testing.T) {
	distributed := &fakeRedisLimiter{
		result: &redis_rate.Result{Allowed: 0, Remaining: 0, RetryAfter: 12 * time.Second, ResetAfter: 12 * time.Second},
	}
	limiter := newLimiter(distributed, 60)

	result := limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 0)

	assert.False(t, result.Allowed)
	assert.Equal(t, 12*time.Second, result.RetryAfter)
	assert.False(t, result.FailedClosed)
}

func TestAllow_FailsClosedOnError(t *testing.T) {
	distributed := &fakeRedisLimiter{err: errors.New("connection refused")}
	limiter := newLimiter(distributed, 60)

	result := limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 0)

	assert.False(t, result.Allowed)
	assert.True(t, result.FailedClosed)
	assert.Equal(t, ratelimit.Window, result.RetryAfter)
}

func TestAllow_PreFilterIsolatesClients(t *testing.T) {
	distributed := &fakeRedisLimiter{
		result: &redis_rate.Result{Allowed: 1, Remaining: 4},
	}
	limiter := ratelimit.NewLimiter(distributed, &fakeClock{now: time.Unix(1_700_000_000, 0)}, config.RateLimitConfig{
		DefaultPerMinute: 5,
		KeyPrefix:        "test:limiter:",
	})

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 0).Allowed,
			"request %d within the window must pass", i+1)
	}

	// The first client's bucket is exhausted; its next delivery is shed
	// locally without a Redis round trip.
	result := limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 0)
	assert.False(t, result.Allowed)
	assert.False(t, result.FailedClosed)
	assert.Len(t, distributed.calls, 5)

	// A fresh client on the same connection has its own window.
	result = limiter.Allow(context.Background(), "conn-1", "198.51.100.7", 0)
	assert.True(t, result.Allowed, "a new client must not be rejected for another client's traffic")
	assert.Len(t, distributed.calls, 6)
}

func TestAllow_PreFilterTracksLimitChanges(t *testing.T) {
	distributed := &fakeRedisLimiter{
		result: &redis_rate.Result{Allowed: 1},
	}
	limiter := ratelimit.NewLimiter(distributed, &fakeClock{now: time.Unix(1_700_000_000, 0)}, config.RateLimitConfig{
		DefaultPerMinute: 1,
		KeyPrefix:        "test:limiter:",
	})

	require.True(t, limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 1).Allowed)
	require.False(t, limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 1).Allowed)

	// Raising the connection's override rebuilds the bucket immediately
	// instead of waiting for a restart.
	assert.True(t, limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 120).Allowed)
}

func TestAllow_KeySeparatesClients(t *testing.T) {
	distributed := &fakeRedisLimiter{
		result: &redis_rate.Result{Allowed: 1, Remaining: 59},
	}
	limiter := newLimiter(distributed, 60)

	limiter.Allow(context.Background(), "conn-1", "203.0.113.9", 0)
	limiter.Allow(context.Background(), "conn-1", "198.51.100.7", 0)

	require.Len(t, distributed.calls, 2)
	assert.NotEqual(t, distributed.calls[0].key, distributed.calls[1].key)
}
