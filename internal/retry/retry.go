// Package retry runs a func against transient failures with exponential
// backoff, the same backoff-factor/max-backoff shape as stormdb's
// RecoveryManager.handleDatabaseConnectionFailure, reduced to a single
// reusable executor instead of a registry of named recovery strategies —
// this engine has one retry policy (§4.4, §7), not a strategy-per-failure-type.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"retailsync/internal/metrics"
	"retailsync/internal/synerr"
)

// Policy configures the backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
}

// DefaultPolicy mirrors the 3-attempt ceiling §4.4/§7 assume for COMMERCE calls.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	Factor:      2.0,
}

// Executor retries a func on transient failure per a Policy, classifying
// errors via synerr.Classify. Non-transient failures return immediately.
// Each attempt is reported to metrics.Sink (§4.2: "Exposes per-call attempt
// count to metrics").
type Executor struct {
	policy Policy
	sink   metrics.Sink
	logger *zap.Logger
}

// New builds an Executor. A zero Policy falls back to DefaultPolicy. A nil
// sink is replaced with metrics.NopSink{} so callers that don't care about
// attempt counts (most tests) don't have to pass one.
func New(policy Policy, sink metrics.Sink, logger *zap.Logger) *Executor {
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Executor{policy: policy, sink: sink, logger: logger}
}

// Do runs fn, retrying while synerr.Classify(err) is transient, up to
// MaxAttempts. It returns the last error if the budget is exhausted or a
// non-transient failure occurs.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := e.policy.BaseDelay

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		e.sink.IncRetryAttempt(name)
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !synerr.IsTransient(err) {
			return err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		wait := jitter(delay)
		e.logger.Debug("retrying after transient failure",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * e.policy.Factor)
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}

	return fmt.Errorf("%s: exhausted %d attempts: %w", name, e.policy.MaxAttempts, lastErr)
}

// jitter adds a random 0-20% of d so concurrent retries don't thunder.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.2
	offset := rand.Float64() * spread
	return d + time.Duration(offset)
}
