// Package ratelimit bounds inbound delivery rates per (client, connection)
// pair using a distributed one-minute counting window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/salespulse/sp-ingest/internal/adapter"
	"github.com/salespulse/sp-ingest/internal/config"
	"github.com/salespulse/sp-ingest/internal/logger"
)

// Window is the fixed rate-limit window
const Window = time.Minute

// maxPreFilters caps the in-process pre-filter map
const maxPreFilters = 65536

// Result reports one admission decision
type Result struct {
	// Allowed is false when the delivery must be rejected
	Allowed bool
	// Limit is the per-minute maximum that applied
	Limit int
	// Remaining is the number of requests left in the current window
	Remaining int
	// RetryAfter is how long the caller should wait before retrying
	RetryAfter time.Duration
	// ResetAt is when the current window resets
	ResetAt time.Time
	// FailedClosed is true when the decision was forced by an evaluation
	// error rather than an exhausted window
	FailedClosed bool
}

// Limiter admits or rejects inbound deliveries
type Limiter interface {
	// Allow evaluates the limit for one delivery. perMinute overrides the
	// global default when positive.
	Allow(ctx context.Context, connectionID, clientIP string, perMinute int) Result
}

type limiter struct {
	distributed adapter.RedisRateLimiter
	clock       adapter.Clock
	cfg         config.RateLimitConfig

	// preFilters holds one in-process limiter per (connection, client) pair
	// to shed obviously-over-limit bursts before they reach Redis
	mu         sync.Mutex
	preFilters map[string]*preFilter
}

// preFilter is an in-process token bucket for one (connection, client) pair.
// perMinute records the limit the bucket was built for so a changed
// connection override rebuilds it.
type preFilter struct {
	perMinute int
	bucket    *rate.Limiter
}

// NewLimiter creates a limiter backed by the given distributed rate limiter.
//
// Failure policy is fail-closed: any error evaluating the limit rejects the
// delivery with a retry-after of one full window. Unauthenticated inbound
// HTTP is the largest abuse surface in the system, so an unavailable limiter
// must not admit unbounded traffic.
func NewLimiter(distributed adapter.RedisRateLimiter, clock adapter.Clock, cfg config.RateLimitConfig) Limiter {
	if cfg.DefaultPerMinute <= 0 {
		cfg.DefaultPerMinute = 60
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sp:ingest:limiter:"
	}
	if cfg.PreFilterBurst <= 0 {
		cfg.PreFilterBurst = cfg.DefaultPerMinute
	}

	return &limiter{
		distributed: distributed,
		clock:       clock,
		cfg:         cfg,
		preFilters:  make(map[string]*preFilter),
	}
}

// Allow evaluates the limit for one delivery
func (l *limiter) Allow(ctx context.Context, connectionID, clientIP string, perMinute int) Result {
	limit := perMinute
	if limit <= 0 {
		limit = l.cfg.DefaultPerMinute
	}

	now := l.clock.Now()

	// In-process pre-filter: rejects the worst of a burst without a Redis
	// round trip. A pre-filter rejection is still a rejection.
	if !l.preFilterFor(connectionID, clientIP, limit).Allow() {
		return Result{
			Allowed:    false,
			Limit:      limit,
			RetryAfter: Window,
			ResetAt:    now.Add(Window),
		}
	}

	key := fmt.Sprintf("%s%s:%s", l.cfg.KeyPrefix, connectionID, clientIP)
	res, err := l.distributed.Allow(ctx, key, redis_rate.PerMinute(limit))
	if err != nil {
		// Fail closed
		logger.Warn("Rate limit evaluation failed, rejecting delivery",
			zap.String("connection_id", connectionID),
			zap.String("client_ip", clientIP),
			zap.Error(err),
		)
		return Result{
			Allowed:      false,
			Limit:        limit,
			RetryAfter:   Window,
			ResetAt:      now.Add(Window),
			FailedClosed: true,
		}
	}

	if res.Allowed == 0 {
		retryAfter := res.RetryAfter
		if retryAfter <= 0 {
			retryAfter = Window
		}
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  res.Remaining,
			RetryAfter: retryAfter,
			ResetAt:    now.Add(res.ResetAfter),
		}
	}

	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: res.Remaining,
		ResetAt:   now.Add(res.ResetAfter),
	}
}

// preFilterFor returns the in-process bucket for one (connection, client)
// pair, creating it on first use. The key mirrors the distributed limiter's,
// so the pre-filter only sheds traffic Redis would reject for that same pair.
// A bucket built for a stale limit is replaced, so connection override
// changes take effect without a restart.
func (l *limiter) preFilterFor(connectionID, clientIP string, perMinute int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Reset the map when an address scan grows it past bound; dropped buckets
	// refill to full burst, which the distributed limiter still backstops.
	if len(l.preFilters) >= maxPreFilters {
		l.preFilters = make(map[string]*preFilter)
	}

	key := connectionID + ":" + clientIP
	pf, ok := l.preFilters[key]
	if !ok || pf.perMinute != perMinute {
		pf = &preFilter{
			perMinute: perMinute,
			bucket:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), max(l.cfg.PreFilterBurst, perMinute)),
		}
		l.preFilters[key] = pf
	}
	return pf.bucket
}
