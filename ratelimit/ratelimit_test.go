package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := New(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Acquire(1), "burst permit %d", i)
	}
	assert.False(t, l.Acquire(1), "bucket should be empty after the burst")
}

func TestLimiter_Refill(t *testing.T) {
	l := New(100, 1)

	require.True(t, l.Acquire(1))
	require.False(t, l.Acquire(1))

	// 100 tokens/s refills one token within a few milliseconds.
	assert.Eventually(t, func() bool {
		return l.Acquire(1)
	}, time.Second, 2*time.Millisecond)
}

func TestLimiter_CapacityCap(t *testing.T) {
	l := New(1000, 5)
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, l.Tokens(), 5.0, "tokens must never exceed capacity")
}

func TestLimiter_AcquireMultiple(t *testing.T) {
	l := New(1, 5)

	assert.True(t, l.Acquire(3))
	assert.False(t, l.Acquire(3), "only 2 tokens remain")
	assert.True(t, l.Acquire(2))
}

func TestLimiter_Wait(t *testing.T) {
	l := New(100, 1)
	require.True(t, l.Acquire(1))

	start := time.Now()
	err := l.Wait(context.Background(), 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiter_WaitCancelled(t *testing.T) {
	l := New(0.001, 1)
	require.True(t, l.Acquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_DefensiveDefaults(t *testing.T) {
	l := New(-1, 0)
	assert.True(t, l.Acquire(1), "limiter must start usable even with bad inputs")
}
