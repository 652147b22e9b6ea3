// Package changedetect runs the six-step ChangeDetector tick of §4.11,
// polling RMS for rows modified since the last watermark and handing them
// off to the variant grouper and ProductSyncPipeline.
package changedetect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"retailsync/internal/checkpoint"
	"retailsync/internal/domain"
	"retailsync/internal/lock"
	"retailsync/internal/metrics"
	"retailsync/internal/productsync"
	"retailsync/internal/synerr"
	"retailsync/internal/variant"
)

// itemSource is the subset of rms.Repository a tick calls.
type itemSource interface {
	ModifiedItems(ctx context.Context, since time.Time, limit int) ([]int64, error)
	FetchItemRows(ctx context.Context, ids []int64, includeZeroStock bool, catFilter, famFilter string) ([]domain.ItemRow, error)
}

// ProductPipeline is the shape of productsync.Pipeline.Run that changedetect
// depends on, narrowed to an interface so tests can substitute a fake
// without standing up a real commerce/taxonomy stack.
type ProductPipeline interface {
	Run(ctx context.Context, syncID string, products []domain.Product) (domain.Stats, []productsync.ProductResult, error)
}

// Detector runs one ChangeDetector tick at a time, serialized across
// process instances by DistributedLock("sync/change-detect").
type Detector struct {
	items        itemSource
	grouper      *variant.Grouper
	pipeline     ProductPipeline
	updateStore  *checkpoint.UpdateCheckpointStore
	lock         *lock.DistributedLock
	metrics      metrics.Sink
	logger       *zap.Logger
	lockTTL      time.Duration
	disableLock  bool
	batchCap     int
	successRatio float64
	includeZero  bool
	catFilter    string
	famFilter    string
}

// Config bundles the tuning knobs of §4.11/§6.1 this tick needs.
type Config struct {
	LockTTL    time.Duration
	// DisableLock skips the DistributedLock entirely when ENABLE_SYNC_LOCK
	// is false, for single-instance deployments that don't run a shared
	// Redis and accept the (small) risk of overlapping ticks instead.
	DisableLock      bool
	BatchCap         int
	SuccessThreshold float64
	IncludeZeroStock bool
	CategoryFilter   string
	FamilyFilter     string
}

// New builds a Detector.
func New(items itemSource, grouper *variant.Grouper, pipeline ProductPipeline, updateStore *checkpoint.UpdateCheckpointStore, distLock *lock.DistributedLock, sink metrics.Sink, logger *zap.Logger, cfg Config) *Detector {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.BatchCap == 0 {
		cfg.BatchCap = 500
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 0.95
	}
	return &Detector{
		items:        items,
		grouper:      grouper,
		pipeline:     pipeline,
		updateStore:  updateStore,
		lock:         distLock,
		metrics:      sink,
		logger:       logger,
		lockTTL:      cfg.LockTTL,
		disableLock:  cfg.DisableLock,
		batchCap:     cfg.BatchCap,
		successRatio: cfg.SuccessThreshold,
		includeZero:  cfg.IncludeZeroStock,
		catFilter:    cfg.CategoryFilter,
		famFilter:    cfg.FamilyFilter,
	}
}

// TickOutcome reports what one Tick call actually did, for callers (the
// scheduler, a one-off CLI run) that want to log or test it.
type TickOutcome string

const (
	TickSkippedLockHeld TickOutcome = "lock_held"
	TickNoChanges       TickOutcome = "no_changes"
	TickRan             TickOutcome = "ran"
)

// Tick runs one full change-detection cycle (§4.11 steps 1-6).
func (d *Detector) Tick(ctx context.Context) (TickOutcome, domain.Stats, error) {
	// 1. Acquire the lock; a held lock is a skip, not a failure. Skipped
	// entirely when ENABLE_SYNC_LOCK is false.
	if !d.disableLock {
		handle, err := d.lock.Acquire(ctx, "sync/change-detect", d.lockTTL)
		if err != nil {
			if errors.Is(err, synerr.ErrLockHeld) {
				d.logger.Debug("change-detect tick skipped, lock held")
				return TickSkippedLockHeld, domain.Stats{}, nil
			}
			return TickSkippedLockHeld, domain.Stats{}, fmt.Errorf("acquire change-detect lock: %w", err)
		}
		defer func() {
			if releaseErr := d.lock.Release(ctx, handle); releaseErr != nil {
				d.logger.Warn("failed to release change-detect lock", zap.Error(releaseErr))
			}
		}()
	}

	// 2. Read the watermark.
	cp, _, err := d.updateStore.Load()
	if err != nil {
		return TickRan, domain.Stats{}, fmt.Errorf("load update checkpoint: %w", err)
	}
	since := cp.LastRunTimestamp
	d.metrics.SetCheckpointAgeSeconds("change-detect", time.Since(since).Seconds())

	// 3. Find modified ids.
	ids, err := d.items.ModifiedItems(ctx, since, d.batchCap)
	if err != nil {
		return TickRan, domain.Stats{}, fmt.Errorf("list modified items: %w", err)
	}
	if len(ids) == 0 {
		d.metrics.IncProduct("no_changes")
		return TickNoChanges, domain.Stats{}, nil
	}

	// 4. Hydrate rows, group into products, run the pipeline.
	rows, err := d.items.FetchItemRows(ctx, ids, d.includeZero, d.catFilter, d.famFilter)
	if err != nil {
		return TickRan, domain.Stats{}, fmt.Errorf("fetch item rows: %w", err)
	}
	products := d.grouper.Group(rows)

	syncID := "change-detect-" + uuid.NewString()
	stats, _, runErr := d.pipeline.Run(ctx, syncID, products)
	if runErr != nil {
		return TickRan, stats, fmt.Errorf("run product sync: %w", runErr)
	}

	// 5. Advance the watermark only if the run met the success threshold.
	d.metrics.SetRunSuccessRate("change-detect", stats.SuccessRatio())
	if stats.SuccessRatio() >= d.successRatio {
		maxUpdated := maxLastUpdated(rows)
		if maxUpdated.After(since) {
			if err := d.updateStore.Save(domain.UpdateCheckpoint{LastRunTimestamp: maxUpdated, Version: cp.Version + 1}); err != nil {
				return TickRan, stats, fmt.Errorf("save update checkpoint: %w", err)
			}
		}
	} else {
		d.logger.Warn("change-detect run below success threshold, watermark not advanced",
			zap.Float64("success_ratio", stats.SuccessRatio()),
			zap.Float64("threshold", d.successRatio),
		)
	}

	// 6. Lock released by the deferred call above.
	return TickRan, stats, nil
}

func maxLastUpdated(rows []domain.ItemRow) time.Time {
	var max time.Time
	for _, row := range rows {
		if row.LastUpdated.After(max) {
			max = row.LastUpdated
		}
	}
	return max
}
