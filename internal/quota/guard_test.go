package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-haul/internal/clock/system"
	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/storage/memory"
)

func newGuard(limit int) (*Guard, *system.Fixed) {
	clk := &system.Fixed{T: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	return NewGuard(memory.NewQuotaStore(), clk, Config{MaxFreeHauls: limit, Window: 24 * time.Hour}, nil), clk
}

func TestCheckAndConsume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g, clk := newGuard(2)

	key, err := g.CheckAndConsume(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, KeyFor("203.0.113.7"), key)
	require.NotContains(t, key, "203.0.113.7")

	_, err = g.CheckAndConsume(ctx, "203.0.113.7")
	require.NoError(t, err)
	_, err = g.CheckAndConsume(ctx, "203.0.113.7")
	require.True(t, errors.Is(err, haul.ErrQuotaExceeded))

	_, err = g.CheckAndConsume(ctx, "198.51.100.1")
	require.NoError(t, err, "quota is per caller")

	clk.Advance(24 * time.Hour)
	_, err = g.CheckAndConsume(ctx, "203.0.113.7")
	require.NoError(t, err, "new window")
}

func TestCheckAndConsumeUnknownCaller(t *testing.T) {
	t.Parallel()

	g, _ := newGuard(1)
	_, err := g.CheckAndConsume(context.Background(), "  ")
	require.True(t, errors.Is(err, haul.ErrInvalidRequest))
}

func TestRefund(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g, _ := newGuard(1)
	key, err := g.CheckAndConsume(ctx, "192.0.2.1")
	require.NoError(t, err)
	_, err = g.CheckAndConsume(ctx, "192.0.2.1")
	require.Error(t, err)

	g.Refund(ctx, key)
	_, err = g.CheckAndConsume(ctx, "192.0.2.1")
	require.NoError(t, err)
}

func TestConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	g, _ := newGuard(10)
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.CheckAndConsume(context.Background(), "192.0.2.50"); err == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(10), allowed.Load())
}

type brokenStore struct{}

func (brokenStore) Consume(context.Context, string, time.Time, time.Duration, int) (bool, error) {
	return false, errors.New("db down")
}

func (brokenStore) Release(context.Context, string) error { return errors.New("db down") }

func TestStoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	g := NewGuard(brokenStore{}, system.New(), Config{MaxFreeHauls: 1, Window: time.Hour}, nil)
	_, err := g.CheckAndConsume(context.Background(), "192.0.2.9")
	require.ErrorContains(t, err, "db down")
	require.False(t, errors.Is(err, haul.ErrQuotaExceeded))
	g.Refund(context.Background(), "k")
}
