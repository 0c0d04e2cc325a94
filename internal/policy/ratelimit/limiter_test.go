package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllow(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 2})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"), "burst exhausted")
	require.True(t, l.Allow("b"), "buckets are per key")

	l.now = func() time.Time { return base.Add(time.Second) }
	require.True(t, l.Allow("a"), "one token refilled")
	require.False(t, l.Allow("a"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
	require.Zero(t, l.Len())

	var nilLimiter *Limiter
	require.True(t, nilLimiter.Allow("a"))
}

func TestLimiterEvictsIdleKeys(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 5, Burst: 1, MaxKeys: 2, IdleTTL: time.Minute})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	require.True(t, l.Allow("a"))
	l.now = func() time.Time { return base.Add(30 * time.Second) }
	require.True(t, l.Allow("b"))
	require.Equal(t, 2, l.Len())

	l.now = func() time.Time { return base.Add(70 * time.Second) }
	require.True(t, l.Allow("c"))
	require.Equal(t, 2, l.Len(), "a was idle and evicted")

	l.now = func() time.Time { return base.Add(71 * time.Second) }
	require.True(t, l.Allow("d"))
	require.Equal(t, 1, l.Len(), "no idle keys, map reset")
}
