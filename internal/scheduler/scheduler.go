// Package scheduler drives the three jobs of §4.14 — change-detect on a
// fixed interval, full-sync on a configured HH:MM-in-timezone cron spec,
// and a daily maintenance pass — the way stormdb's progressive-test runner
// drives its own timed bands, but built on robfig/cron/v3 rather than a
// hand-rolled ticker loop since this is genuinely calendar/timezone cron
// scheduling, not a fixed-interval band sequence.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"retailsync/internal/changedetect"
	"retailsync/internal/checkpoint"
	"retailsync/internal/domain"
)

// ChangeDetectRunner is the subset of changedetect.Detector the scheduler
// calls, narrowed to an interface purely for test substitution.
type ChangeDetectRunner interface {
	Tick(ctx context.Context) (changedetect.TickOutcome, domain.Stats, error)
}

// FullSyncRunner is the full-sync entry point, satisfied by
// app.Service.RunFullSync.
type FullSyncRunner func(ctx context.Context, includeZeroStock bool, catFilter, famFilter string) (domain.Stats, error)

// Config bundles the §6.1 scheduling knobs: change-detect interval, the
// full-sync cron spec, and whether full-sync is enabled at all.
type Config struct {
	ChangeDetectInterval time.Duration
	FullSyncEnabled      bool
	FullSyncHour         int
	FullSyncMinute       int
	FullSyncTimezone     string
	FullSyncDays         string // cron day-of-week field, e.g. "1-5" or "*"
	RunTimeout           time.Duration
}

// Scheduler owns a cron.Cron instance and the three jobs it drives.
// Each job run is serialized against its siblings only by the
// lock.DistributedLock the underlying runner already acquires (§4.14,
// §5) — the scheduler itself does not attempt overlap detection, since
// robfig/cron's own "skip if still running" wrapper would be redundant
// with (and weaker than) the distributed lock that is authoritative here.
type Scheduler struct {
	cron          *cron.Cron
	changeDetect  ChangeDetectRunner
	fullSync      FullSyncRunner
	progressStore *checkpoint.ProgressCheckpointStore
	logger        *zap.Logger
	cfg           Config
	entries       []cron.EntryID
}

// New builds a Scheduler. Call Start to begin running jobs, Stop to drain
// in-flight jobs and halt.
func New(changeDetect ChangeDetectRunner, fullSync FullSyncRunner, progressStore *checkpoint.ProgressCheckpointStore, logger *zap.Logger, cfg Config) *Scheduler {
	if cfg.ChangeDetectInterval <= 0 {
		cfg.ChangeDetectInterval = 5 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	loc, err := time.LoadLocation(cfg.FullSyncTimezone)
	if err != nil || cfg.FullSyncTimezone == "" {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{
		cron:          c,
		changeDetect:  changeDetect,
		fullSync:      fullSync,
		progressStore: progressStore,
		logger:        logger,
		cfg:           cfg,
	}
}

// Start registers and begins the change-detect, full-sync (if enabled),
// and maintenance jobs, returning once all three are scheduled. It does
// not block; call Stop (or cancel ctx) to halt the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	cdID, err := s.cron.AddFunc(intervalSpec(s.cfg.ChangeDetectInterval), func() {
		s.runChangeDetect(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule change-detect: %w", err)
	}
	s.entries = append(s.entries, cdID)

	if s.cfg.FullSyncEnabled {
		spec := fullSyncSpec(s.cfg)
		fsID, err := s.cron.AddFunc(spec, func() {
			s.runFullSync(ctx)
		})
		if err != nil {
			return fmt.Errorf("schedule full-sync %q: %w", spec, err)
		}
		s.entries = append(s.entries, fsID)
	}

	maintID, err := s.cron.AddFunc("17 3 * * *", func() {
		s.runMaintenance(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	s.entries = append(s.entries, maintID)

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("change_detect_interval", s.cfg.ChangeDetectInterval),
		zap.Bool("full_sync_enabled", s.cfg.FullSyncEnabled),
	)
	return nil
}

// Stop halts the cron scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runChangeDetect(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	outcome, stats, err := s.changeDetect.Tick(runCtx)
	if err != nil {
		s.logger.Error("change-detect tick failed", zap.Error(err))
		return
	}
	s.logger.Info("change-detect tick complete",
		zap.String("outcome", string(outcome)),
		zap.Int("processed", stats.Processed),
		zap.Float64("success_ratio", stats.SuccessRatio()),
	)
}

func (s *Scheduler) runFullSync(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	stats, err := s.fullSync(runCtx, false, "", "")
	if err != nil {
		s.logger.Error("full-sync run failed", zap.Error(err))
		return
	}
	s.logger.Info("full-sync run complete",
		zap.Int("processed", stats.Processed),
		zap.Float64("success_ratio", stats.SuccessRatio()),
	)
}

// runMaintenance trims progress checkpoints older than 7 days (§4.7,
// §4.14). Log rotation, the other line item §4.14 names for this job, is
// out of this core's scope per spec.md §1's "log shippers" exclusion.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	_ = ctx
	removed, err := s.progressStore.Cleanup(time.Now().UTC())
	if err != nil {
		s.logger.Error("maintenance checkpoint GC failed", zap.Error(err))
		return
	}
	s.logger.Info("maintenance complete", zap.Int("checkpoints_removed", removed))
}

// intervalSpec turns a duration into a robfig/cron "@every" spec, the
// library's own fixed-interval construct, rather than hand-rolling a
// ticker loop around a cron.Cron built for calendar schedules.
func intervalSpec(d time.Duration) string {
	return "@every " + d.String()
}

// fullSyncSpec builds a standard 5-field cron spec from the FULL_SYNC_*
// config group: minute, hour, any day-of-month, any month, configured
// weekday mask.
func fullSyncSpec(cfg Config) string {
	days := cfg.FullSyncDays
	if days == "" {
		days = "*"
	}
	return fmt.Sprintf("%d %d * * %s", cfg.FullSyncMinute, cfg.FullSyncHour, days)
}
