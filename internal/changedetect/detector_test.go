package changedetect_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"retailsync/internal/changedetect"
	"retailsync/internal/checkpoint"
	"retailsync/internal/clock"
	"retailsync/internal/domain"
	"retailsync/internal/lock"
	"retailsync/internal/metrics"
	"retailsync/internal/productsync"
	"retailsync/internal/variant"
)

func setupRedisTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping changedetect integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("connecting to test redis: %v", err)
	}
	return client
}

type fakeItemSource struct {
	ids  []int64
	rows []domain.ItemRow
}

func (f *fakeItemSource) ModifiedItems(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	return f.ids, nil
}

func (f *fakeItemSource) FetchItemRows(ctx context.Context, ids []int64, includeZeroStock bool, catFilter, famFilter string) ([]domain.ItemRow, error) {
	return f.rows, nil
}

type fakePipeline struct {
	stats      domain.Stats
	runCalled  bool
	lastSyncID string
}

func (f *fakePipeline) Run(ctx context.Context, syncID string, products []domain.Product) (domain.Stats, []productsync.ProductResult, error) {
	f.runCalled = true
	f.lastSyncID = syncID
	return f.stats, nil, nil
}

func row(id int64, lastUpdated time.Time) domain.ItemRow {
	return domain.ItemRow{ItemID: id, SKU: "SKU", CCOD: "CC", LastUpdated: lastUpdated}
}

// checkpointAgeSpySink wraps NopSink to record SetCheckpointAgeSeconds
// calls, so a test can confirm Tick reports watermark age every run.
type checkpointAgeSpySink struct {
	metrics.NopSink
	ages map[string]float64
}

func (s *checkpointAgeSpySink) SetCheckpointAgeSeconds(job string, seconds float64) {
	if s.ages == nil {
		s.ages = map[string]float64{}
	}
	s.ages[job] = seconds
}

func TestTick_RecordsCheckpointAgeEvenWithNoChanges(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	distLock := lock.New(client, zap.NewNop())

	sink := &checkpointAgeSpySink{}
	detector := changedetect.New(&fakeItemSource{}, variant.NewGrouper(zap.NewNop()), &fakePipeline{}, checkpoint.NewUpdateCheckpointStore(t.TempDir(), 30, clock.New(), zap.NewNop()), distLock, sink, zap.NewNop(), changedetect.Config{LockTTL: 5 * time.Second})

	_, _, err := detector.Tick(context.Background())
	require.NoError(t, err)
	_, recorded := sink.ages["change-detect"]
	require.True(t, recorded, "SetCheckpointAgeSeconds should fire every tick, not just successful runs")
}

func TestTick_NoModifiedItemsSkipsPipelineAndRecordsNoChanges(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	distLock := lock.New(client, zap.NewNop())

	items := &fakeItemSource{}
	pipeline := &fakePipeline{}
	detector := changedetect.New(items, variant.NewGrouper(zap.NewNop()), pipeline, checkpoint.NewUpdateCheckpointStore(t.TempDir(), 30, clock.New(), zap.NewNop()), distLock, metrics.NopSink{}, zap.NewNop(), changedetect.Config{LockTTL: 5 * time.Second})

	outcome, _, err := detector.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, changedetect.TickNoChanges, outcome)
	require.False(t, pipeline.runCalled)
}

func TestTick_AdvancesWatermarkOnSuccessfulRun(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	distLock := lock.New(client, zap.NewNop())

	newer := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	items := &fakeItemSource{
		ids:  []int64{1, 2},
		rows: []domain.ItemRow{row(1, newer.Add(-time.Hour)), row(2, newer)},
	}
	pipeline := &fakePipeline{stats: domain.Stats{Processed: 2, Created: 2}}
	dir := t.TempDir()
	updateStore := checkpoint.NewUpdateCheckpointStore(dir, 30, clock.New(), zap.NewNop())
	detector := changedetect.New(items, variant.NewGrouper(zap.NewNop()), pipeline, updateStore, distLock, metrics.NopSink{}, zap.NewNop(), changedetect.Config{LockTTL: 5 * time.Second, SuccessThreshold: 0.95})

	outcome, stats, err := detector.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, changedetect.TickRan, outcome)
	require.Equal(t, 2, stats.Processed)
	require.True(t, pipeline.runCalled)

	cp, found, err := updateStore.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, cp.LastRunTimestamp.Equal(newer))
}

func TestTick_DoesNotAdvanceWatermarkBelowThreshold(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	distLock := lock.New(client, zap.NewNop())

	items := &fakeItemSource{
		ids:  []int64{1},
		rows: []domain.ItemRow{row(1, time.Now())},
	}
	pipeline := &fakePipeline{stats: domain.Stats{Processed: 10, Errors: 5}}
	dir := t.TempDir()
	updateStore := checkpoint.NewUpdateCheckpointStore(dir, 30, clock.New(), zap.NewNop())
	detector := changedetect.New(items, variant.NewGrouper(zap.NewNop()), pipeline, updateStore, distLock, metrics.NopSink{}, zap.NewNop(), changedetect.Config{LockTTL: 5 * time.Second, SuccessThreshold: 0.95})

	_, _, err := detector.Tick(context.Background())
	require.NoError(t, err)

	_, found, err := updateStore.Load()
	require.NoError(t, err)
	require.False(t, found)
}

func TestTick_DisableLockIgnoresAnAlreadyHeldLock(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	distLock := lock.New(client, zap.NewNop())

	held, err := distLock.Acquire(context.Background(), "sync/change-detect", 5*time.Second)
	require.NoError(t, err)
	defer distLock.Release(context.Background(), held)

	pipeline := &fakePipeline{}
	detector := changedetect.New(&fakeItemSource{}, variant.NewGrouper(zap.NewNop()), pipeline, checkpoint.NewUpdateCheckpointStore(t.TempDir(), 30, clock.New(), zap.NewNop()), distLock, metrics.NopSink{}, zap.NewNop(), changedetect.Config{LockTTL: 5 * time.Second, DisableLock: true})

	outcome, _, err := detector.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, changedetect.TickNoChanges, outcome)
}

func TestTick_HeldLockIsSkippedNotFailed(t *testing.T) {
	client := setupRedisTest(t)
	defer client.Close()
	distLock := lock.New(client, zap.NewNop())

	held, err := distLock.Acquire(context.Background(), "sync/change-detect", 5*time.Second)
	require.NoError(t, err)
	defer distLock.Release(context.Background(), held)

	pipeline := &fakePipeline{}
	detector := changedetect.New(&fakeItemSource{}, variant.NewGrouper(zap.NewNop()), pipeline, checkpoint.NewUpdateCheckpointStore(t.TempDir(), 30, clock.New(), zap.NewNop()), distLock, metrics.NopSink{}, zap.NewNop(), changedetect.Config{LockTTL: 5 * time.Second})

	outcome, _, err := detector.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, changedetect.TickSkippedLockHeld, outcome)
	require.False(t, pipeline.runCalled)
}
