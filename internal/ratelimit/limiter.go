// Package ratelimit gives each COMMERCE endpoint family its own token
// bucket, the same per-key limiter shape as psql-next's
// internal/ratelimit.DatabaseRateLimiter, simplified down to what §4.4/§6.3
// actually need: one bucket per family, filled from COMMERCE_RATE_LIMIT_PER_SECOND,
// with no adaptive rate adjustment (the teacher pack's adaptive loop assumes
// a traffic volume this engine never sees).
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Family names the group of COMMERCE operations sharing one budget (§4.4).
type Family string

const (
	FamilyProductWrite  Family = "product_write"
	FamilyInventory     Family = "inventory"
	FamilyMetafield     Family = "metafield"
	FamilyDiscount      Family = "discount"
	FamilyCollection    Family = "collection"
	FamilyOrderRead     Family = "order_read"
)

// limit pairs the rps/burst a bucket should be restored to once a Surrender
// cutoff passes.
type limit struct {
	rps   float64
	burst int
}

// Limiter hands out one token bucket per Family, all filled at the same
// configured rate unless a family-specific override is registered.
type Limiter struct {
	logger   *zap.Logger
	mu       sync.Mutex
	buckets  map[Family]*rate.Limiter
	limits   map[Family]limit
	rps      float64
	burst    int
}

// New builds a Limiter whose default bucket refills at rps with the given
// burst, shared by every family that hasn't been given its own bucket.
func New(rps float64, burst int, logger *zap.Logger) *Limiter {
	return &Limiter{
		logger:  logger,
		buckets: make(map[Family]*rate.Limiter),
		limits:  make(map[Family]limit),
		rps:     rps,
		burst:   burst,
	}
}

// WithFamilyLimit overrides the bucket for a single family, for operations
// known to carry a tighter quota (e.g. bulk mutations).
func (l *Limiter) WithFamilyLimit(f Family, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[f] = rate.NewLimiter(rate.Limit(rps), burst)
	l.limits[f] = limit{rps: rps, burst: burst}
}

// Acquire blocks until a token for family f is available or ctx is
// cancelled. It is the single gate every CommerceClient call passes through
// before issuing a GraphQL request (§4.5).
func (l *Limiter) Acquire(ctx context.Context, f Family) error {
	b := l.bucketFor(f)
	if err := b.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", f, err)
	}
	return nil
}

// Surrender handles a 429/"throttled" response for family f (§4.1): it
// drains the bucket's remaining budget immediately and blocks until
// retryAfter has elapsed, then restores the family's normal rate so the
// next Acquire refills from a clean bucket rather than a burst COMMERCE
// has already told us to back off from.
func (l *Limiter) Surrender(ctx context.Context, f Family, retryAfter time.Duration) error {
	b := l.bucketFor(f)
	now := time.Now()
	b.SetBurstAt(now, 0)
	b.SetLimitAt(now, 0)

	l.logger.Warn("surrendering rate budget", zap.String("family", string(f)), zap.Duration("retry_after", retryAfter))

	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit surrender for %s: %w", f, ctx.Err())
	case <-timer.C:
	}

	l.mu.Lock()
	rps, burst := l.rps, l.burst
	if override, ok := l.limits[f]; ok {
		rps, burst = override.rps, override.burst
	}
	l.mu.Unlock()

	resumeAt := time.Now()
	b.SetLimitAt(resumeAt, rate.Limit(rps))
	b.SetBurstAt(resumeAt, burst)
	return nil
}

func (l *Limiter) bucketFor(f Family) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[f]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.buckets[f] = b
		l.logger.Debug("created rate bucket", zap.String("family", string(f)), zap.Float64("rps", l.rps))
	}
	return b
}
