// Package app is the composition root, wiring every dependency the way the
// teacher's cmd/server/main.go builds internal/app.Service: one function
// that constructs every concrete collaborator and hands back a thin
// façade over the three operations the outer commands (daemon, CLI,
// webhook handler) actually call.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"retailsync/internal/changedetect"
	"retailsync/internal/checkpoint"
	"retailsync/internal/clock"
	"retailsync/internal/commerce"
	"retailsync/internal/config"
	"retailsync/internal/domain"
	"retailsync/internal/lock"
	"retailsync/internal/metrics"
	"retailsync/internal/orderingest"
	"retailsync/internal/productsync"
	"retailsync/internal/ratelimit"
	"retailsync/internal/retry"
	"retailsync/internal/rms"
	"retailsync/internal/scheduler"
	"retailsync/internal/taxonomy"
	"retailsync/internal/variant"
)

const taxonomyCacheSize = 500

// Service is the engine's single entry point, built once at process start
// and shared across the scheduler and any CLI/webhook commands.
type Service struct {
	changeDetector *changedetect.Detector
	orderPipeline  *orderingest.Pipeline
	productPipe    *productsync.Pipeline
	fullSyncPipe   *productsync.Pipeline
	rms            *rms.Repository
	progressStore  *checkpoint.ProgressCheckpointStore
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	logger         *zap.Logger
	cfg            *config.Config
}

// New builds every collaborator from cfg and returns the assembled Service.
// Callers are responsible for calling Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	pool, err := rms.NewPool(ctx, cfg.RMS)
	if err != nil {
		return nil, fmt.Errorf("build RMS pool: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	sink := metrics.NewPrometheusSink()
	limiter := ratelimit.New(cfg.Commerce.RatePerSecond, max(int(cfg.Commerce.RatePerSecond), 1), logger)
	retryExec := retry.New(retry.DefaultPolicy, sink, logger)
	commerceClient, err := commerce.NewClient(cfg.Commerce, limiter, retryExec, logger)
	if err != nil {
		pool.Close()
		redisClient.Close()
		return nil, fmt.Errorf("build commerce client: %w", err)
	}

	resolver, err := taxonomy.NewResolver(taxonomyCacheSize, time.Hour)
	if err != nil {
		pool.Close()
		redisClient.Close()
		return nil, fmt.Errorf("build taxonomy resolver: %w", err)
	}

	repo := rms.NewRepository(pool)
	grouper := variant.NewGrouper(logger)
	distLock := lock.New(redisClient, logger)
	clk := clock.New()
	updateStore := checkpoint.NewUpdateCheckpointStore(cfg.Checkpoint.FilePath, cfg.Checkpoint.DefaultDays, clk, logger)
	progressStore := checkpoint.NewProgressCheckpointStore(cfg.Checkpoint.FilePath, logger)

	productPipe := productsync.New(commerceClient, resolver, progressStore, sink, clk, logger, productsync.Config{
		BatchSize:            cfg.Sync.BatchSize,
		MaxConcurrentBatches: cfg.Sync.MaxConcurrentJobs,
		CheckpointInterval:   cfg.Sync.CheckpointInterval,
	})

	fullSyncPipe := productsync.New(commerceClient, resolver, progressStore, sink, clk, logger, productsync.Config{
		BatchSize:            cfg.Sync.BatchSize,
		MaxConcurrentBatches: cfg.Sync.MaxConcurrentJobs,
		CheckpointInterval:   cfg.Sync.CheckpointInterval,
		ForceCreate:          true,
	})

	detector := changedetect.New(repo, grouper, productPipe, updateStore, distLock, sink, logger, changedetect.Config{
		LockTTL:          time.Duration(cfg.Sync.LockTimeoutSeconds) * time.Second,
		DisableLock:      !cfg.Sync.EnableLock,
		BatchCap:         cfg.Sync.BatchSize * cfg.Sync.MaxConcurrentJobs * 10,
		SuccessThreshold: cfg.Checkpoint.SuccessThreshold,
	})

	orderPipeline := orderingest.New(commerceClient, repo, sink, logger, cfg.OrderPolicy)

	return &Service{
		changeDetector: detector,
		orderPipeline:  orderPipeline,
		productPipe:    productPipe,
		fullSyncPipe:   fullSyncPipe,
		rms:            repo,
		progressStore:  progressStore,
		pool:           pool,
		redisClient:    redisClient,
		logger:         logger,
		cfg:            cfg,
	}, nil
}

// Close releases the pool and redis client.
func (s *Service) Close() {
	s.pool.Close()
	_ = s.redisClient.Close()
}

// RunChangeDetect runs one ChangeDetector tick (§4.11).
func (s *Service) RunChangeDetect(ctx context.Context) (changedetect.TickOutcome, domain.Stats, error) {
	return s.changeDetector.Tick(ctx)
}

// RunFullSync re-processes every in-stock item regardless of watermark,
// honoring ForceCreate so even untouched rows are re-upserted (§4.14's
// full-sync job). It does not read or advance the UpdateCheckpoint
// watermark, since a full sync is an out-of-band reconciliation pass, not
// part of the incremental-detection cadence.
func (s *Service) RunFullSync(ctx context.Context, includeZeroStock bool, catFilter, famFilter string) (domain.Stats, error) {
	ids, err := s.rms.ModifiedItems(ctx, time.Time{}, 1<<30)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("list all items: %w", err)
	}
	rows, err := s.rms.FetchItemRows(ctx, ids, includeZeroStock, catFilter, famFilter)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("fetch item rows: %w", err)
	}
	grouper := variant.NewGrouper(s.logger)
	products := grouper.Group(rows)

	stats, _, err := s.fullSyncPipe.Run(ctx, "full-sync-"+uuid.NewString(), products)
	if err != nil {
		return stats, fmt.Errorf("run full sync: %w", err)
	}
	return stats, nil
}

// IngestOrder runs the OrderIngestPipeline for one commerce order (§4.13).
func (s *Service) IngestOrder(ctx context.Context, commerceOrderID, referenceNumber string) domain.OrderOutcome {
	return s.orderPipeline.Ingest(ctx, commerceOrderID, referenceNumber)
}

// NewScheduler builds the §4.14 Scheduler over this Service's already-wired
// change-detect and full-sync operations, ready for cmd/syncd to Start.
func (s *Service) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(s.changeDetector, s.RunFullSync, s.progressStore, s.logger, scheduler.Config{
		ChangeDetectInterval: time.Duration(s.cfg.Sync.IntervalMinutes) * time.Minute,
		FullSyncEnabled:      s.cfg.FullSync.Enabled,
		FullSyncHour:         s.cfg.FullSync.Hour,
		FullSyncMinute:       s.cfg.FullSync.Minute,
		FullSyncTimezone:     s.cfg.FullSync.Timezone,
		FullSyncDays:         s.cfg.FullSync.Days,
		RunTimeout:           time.Duration(s.cfg.Sync.TimeoutMinutes) * time.Minute,
	})
}

func redisAddr(redisURL string) string {
	if redisURL == "" {
		return "localhost:6379"
	}
	return redisURL
}
