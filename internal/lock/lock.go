// Package lock provides mutual exclusion across scheduler instances via
// Redis, the same SET-NX-then-Lua-compare shape as psql-next's
// internal/scaling.RedisStorage (AcquireLeadership/RenewLeadership), recast
// from a single global leader key to per-job named locks (§4.9, §9).
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"retailsync/internal/synerr"
)

const renewScript = `
local key = KEYS[1]
local token = ARGV[1]
local ttlMs = ARGV[2]

if redis.call('GET', key) == token then
	redis.call('PEXPIRE', key, ttlMs)
	return 1
else
	return 0
end
`

const releaseScript = `
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
else
	return 0
end
`

// DistributedLock guards named critical sections (a change-detect tick, a
// full-sync run, a maintenance pass) across however many scheduler
// processes share one REDIS_URL (§4.9).
type DistributedLock struct {
	client  *redis.Client
	logger  *zap.Logger
	renewSc *redis.Script
	relSc   *redis.Script
}

// New builds a DistributedLock over an already-connected redis.Client.
func New(client *redis.Client, logger *zap.Logger) *DistributedLock {
	return &DistributedLock{
		client:  client,
		logger:  logger,
		renewSc: redis.NewScript(renewScript),
		relSc:   redis.NewScript(releaseScript),
	}
}

// Handle is a held lock, returned by Acquire, and must be released by the
// caller (directly or via Holder's background refresh).
type Handle struct {
	key   string
	token string
	ttl   time.Duration
}

// Acquire attempts to take the named lock for ttl. It returns
// synerr.ErrLockHeld, not an error, when another holder owns the key —
// callers treat that as "skip this tick," per §4.9.
func (l *DistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	key := lockKey(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, &synerr.Transient{Cause: err})
	}
	if !ok {
		return nil, synerr.ErrLockHeld
	}

	l.logger.Debug("lock acquired", zap.String("name", name), zap.Duration("ttl", ttl))
	return &Handle{key: key, token: token, ttl: ttl}, nil
}

// Refresh extends a held lock's TTL, failing if another holder has since
// taken it (the compare-and-expire check RenewLeadership performs).
func (l *DistributedLock) Refresh(ctx context.Context, h *Handle) error {
	res, err := l.renewSc.Run(ctx, l.client, []string{h.key}, h.token, h.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", h.key, &synerr.Transient{Cause: err})
	}
	if res == 0 {
		return fmt.Errorf("refresh lock %s: %w", h.key, synerr.ErrLockHeld)
	}
	return nil
}

// Release gives up a held lock, a no-op (not an error) if it was already
// lost to expiry or another holder.
func (l *DistributedLock) Release(ctx context.Context, h *Handle) error {
	_, err := l.relSc.Run(ctx, l.client, []string{h.key}, h.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", h.key, &synerr.Transient{Cause: err})
	}
	l.logger.Debug("lock released", zap.String("key", h.key))
	return nil
}

func lockKey(name string) string { return "retailsync:lock:" + name }

// Holder wraps a Handle with a background refresh ticker, aborting the run
// if refresh fails three times in a row (the lock was almost certainly lost
// to a longer-than-expected stall, per §4.9's "refresh fails repeatedly ->
// abort the run rather than risk double-processing").
type Holder struct {
	lock   *DistributedLock
	handle *Handle
	logger *zap.Logger
	cancel context.CancelFunc
	lost   chan struct{}
}

// StartHolding acquires name and begins refreshing it at ttl/3 intervals in
// the background. The returned Holder's Lost channel closes if refresh
// fails three consecutive times.
func StartHolding(ctx context.Context, l *DistributedLock, name string, ttl time.Duration) (*Holder, error) {
	h, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	holder := &Holder{lock: l, handle: h, logger: l.logger, cancel: cancel, lost: make(chan struct{})}
	go holder.refreshLoop(refreshCtx, ttl)
	return holder, nil
}

func (h *Holder) refreshLoop(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.lock.Refresh(ctx, h.handle); err != nil {
				consecutiveFailures++
				h.logger.Warn("lock refresh failed", zap.String("key", h.handle.key), zap.Int("consecutive_failures", consecutiveFailures), zap.Error(err))
				if consecutiveFailures >= 3 {
					h.logger.Error("lock lost after repeated refresh failures, aborting run", zap.String("key", h.handle.key))
					close(h.lost)
					return
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

// Lost closes when the held lock has been confirmed lost. Callers select
// on it alongside their own work to abort early.
func (h *Holder) Lost() <-chan struct{} { return h.lost }

// Release stops the refresh loop and releases the underlying lock.
func (h *Holder) Release(ctx context.Context) error {
	h.cancel()
	return h.lock.Release(ctx, h.handle)
}
