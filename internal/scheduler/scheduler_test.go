package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"retailsync/internal/changedetect"
	"retailsync/internal/checkpoint"
	"retailsync/internal/domain"
	"retailsync/internal/scheduler"
)

type fakeChangeDetect struct {
	calls int
}

func (f *fakeChangeDetect) Tick(ctx context.Context) (changedetect.TickOutcome, domain.Stats, error) {
	f.calls++
	return changedetect.TickNoChanges, domain.Stats{}, nil
}

func TestSchedulerStartStop(t *testing.T) {
	dir := t.TempDir()
	progressStore := checkpoint.NewProgressCheckpointStore(dir, zap.NewNop())
	cd := &fakeChangeDetect{}
	fullSyncCalls := 0
	fullSync := func(ctx context.Context, includeZeroStock bool, catFilter, famFilter string) (domain.Stats, error) {
		fullSyncCalls++
		return domain.Stats{}, nil
	}

	s := scheduler.New(cd, fullSync, progressStore, zap.NewNop(), scheduler.Config{
		ChangeDetectInterval: time.Minute,
		FullSyncEnabled:      true,
		FullSyncHour:         2,
		FullSyncMinute:       0,
		FullSyncTimezone:     "UTC",
		FullSyncDays:         "*",
	})

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestSchedulerFallsBackOnBadTimezone(t *testing.T) {
	dir := t.TempDir()
	progressStore := checkpoint.NewProgressCheckpointStore(dir, zap.NewNop())
	cd := &fakeChangeDetect{}
	fullSync := func(ctx context.Context, includeZeroStock bool, catFilter, famFilter string) (domain.Stats, error) {
		return domain.Stats{}, nil
	}

	// An invalid timezone falls back to UTC rather than erroring, since
	// §4.14's cron spec is still well-formed without a valid location.
	s := scheduler.New(cd, fullSync, progressStore, zap.NewNop(), scheduler.Config{
		FullSyncTimezone: "Not/A_Zone",
	})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
