package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"retailsync/internal/checkpoint"
	"retailsync/internal/clock"
	"retailsync/internal/domain"
)

func TestUpdateCheckpointStore_LoadMissingReturnsThirtyDayDefault(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := checkpoint.NewUpdateCheckpointStore(dir, 30, clock.NewMock(now), zap.NewNop())

	cp, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, now.AddDate(0, 0, -30), cp.LastRunTimestamp)
}

func TestUpdateCheckpointStore_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewUpdateCheckpointStore(dir, 30, clock.New(), zap.NewNop())

	want := domain.UpdateCheckpoint{LastRunTimestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), Version: 1}
	require.NoError(t, store.Save(want))

	got, found, err := store.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want.LastRunTimestamp, got.LastRunTimestamp)
	assert.Equal(t, want.Version, got.Version)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestUpdateCheckpointStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewUpdateCheckpointStore(dir, 30, clock.New(), zap.NewNop())

	require.NoError(t, store.Save(domain.UpdateCheckpoint{LastRunTimestamp: time.Now()}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestProgressCheckpointStore_SaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewProgressCheckpointStore(dir, zap.NewNop())

	cp := domain.ProgressCheckpoint{SyncID: "run-1", LastProcessedCCOD: "CC123", ProcessedCount: 10, TotalCount: 100}
	require.NoError(t, store.Save(cp))

	got, found, err := store.Load("run-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "CC123", got.LastProcessedCCOD)

	require.NoError(t, store.Delete("run-1"))
	_, found, err = store.Load("run-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProgressCheckpointStore_CleanupRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewProgressCheckpointStore(dir, zap.NewNop())

	require.NoError(t, store.Save(domain.ProgressCheckpoint{SyncID: "fresh"}))
	require.NoError(t, store.Save(domain.ProgressCheckpoint{SyncID: "stale"}))

	stalePath := filepath.Join(dir, "progress_stale.json")
	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(stalePath, oldTime, oldTime))

	removed, err := store.Cleanup(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, _ := store.Load("fresh")
	assert.True(t, found)
	_, found, _ = store.Load("stale")
	assert.False(t, found)
}
