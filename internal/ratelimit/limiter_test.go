package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"retailsync/internal/ratelimit"
)

func TestAcquire_SeparateFamiliesHaveIndependentBudgets(t *testing.T) {
	l := ratelimit.New(1000, 1, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, l.Acquire(ctx, ratelimit.FamilyProductWrite))
	assert.NoError(t, l.Acquire(ctx, ratelimit.FamilyInventory))
}

func TestAcquire_BlocksUntilContextCancelled(t *testing.T) {
	l := ratelimit.New(0.001, 1, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, l.Acquire(context.Background(), ratelimit.FamilyProductWrite))
	err := l.Acquire(ctx, ratelimit.FamilyProductWrite)
	assert.Error(t, err)
}

func TestWithFamilyLimit_OverridesDefaultBucket(t *testing.T) {
	l := ratelimit.New(1000, 1, zap.NewNop())
	l.WithFamilyLimit(ratelimit.FamilyDiscount, 0.001, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, l.Acquire(context.Background(), ratelimit.FamilyDiscount))
	err := l.Acquire(ctx, ratelimit.FamilyDiscount)
	assert.Error(t, err)
}

func TestSurrender_BlocksForRetryAfterThenRestoresBudget(t *testing.T) {
	l := ratelimit.New(1000, 1, zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, l.Acquire(ctx, ratelimit.FamilyInventory))

	start := time.Now()
	require.NoError(t, l.Surrender(ctx, ratelimit.FamilyInventory, 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, l.Acquire(acquireCtx, ratelimit.FamilyInventory))
}

func TestSurrender_RestoresFamilyOverrideNotDefault(t *testing.T) {
	l := ratelimit.New(1000, 1, zap.NewNop())
	l.WithFamilyLimit(ratelimit.FamilyDiscount, 0.001, 1)
	assert.NoError(t, l.Acquire(context.Background(), ratelimit.FamilyDiscount))

	require.NoError(t, l.Surrender(context.Background(), ratelimit.FamilyDiscount, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, ratelimit.FamilyDiscount)
	assert.Error(t, err, "Surrender should restore the family's own override rate, not the default 1000rps bucket")
}

func TestSurrender_ReturnsErrorWhenContextCancelledDuringWait(t *testing.T) {
	l := ratelimit.New(1000, 1, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := l.Surrender(ctx, ratelimit.FamilyMetafield, time.Second)
	assert.Error(t, err)
}
