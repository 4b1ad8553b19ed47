package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketfeed/internal/cache"
	"marketfeed/internal/logging"
	"marketfeed/internal/provider"
	"marketfeed/internal/symbols"
)

func TestJanitor_RunsUntilStopped(t *testing.T) {
	t.Parallel()

	// Arrange
	j := New(logging.Discard())
	var runs atomic.Int32
	require.NoError(t, j.AddInterval("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	// Act
	j.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	j.Stop()
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)

	// Assert
	require.Equal(t, after, runs.Load())
}

func TestJanitor_StopCancelsRunningJob(t *testing.T) {
	t.Parallel()

	j := New(logging.Discard())
	started := make(chan struct{})
	var once atomic.Bool
	var cancelled atomic.Bool
	require.NoError(t, j.AddInterval("block", 5*time.Millisecond, func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	j.Start()
	<-started
	j.Stop()

	require.True(t, cancelled.Load())
}

func TestJanitor_SurvivesPanickingJob(t *testing.T) {
	t.Parallel()

	j := New(logging.Discard())
	var ok atomic.Int32
	require.NoError(t, j.AddInterval("panic", 5*time.Millisecond, func(context.Context) error { panic("boom") }))
	require.NoError(t, j.AddInterval("fine", 5*time.Millisecond, func(context.Context) error {
		ok.Add(1)
		return errors.New("soft failure")
	}))

	j.Start()
	defer j.Stop()

	require.Eventually(t, func() bool { return ok.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestJanitor_RejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	j := New(nil)
	require.Error(t, j.AddInterval("never", 0, func(context.Context) error { return nil }))
	j.Stop()
}

func TestSweep(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	store := cache.New(cache.WithClock(func() time.Time { return now }))
	store.Put("crypto_bitcoin", 1, cache.CategoryCrypto)
	store.Put("search_btc", 2, cache.CategorySearch)
	now = now.Add(20 * time.Second)

	j := New(logging.Discard())
	j.RunNow("sweep", Sweep(store))
	j.Stop()

	require.Equal(t, 1, store.Len())
}

type listing []provider.Listing

func (l listing) TopMarkets(context.Context, int) ([]provider.Listing, error) { return l, nil }

func TestRefresh(t *testing.T) {
	t.Parallel()

	reg := symbols.Default()
	r := &symbols.Refresher{
		Registry: reg,
		Source:   listing{{ID: "brand-new-coin", Symbol: "BNCX", Name: "Brand New Coin", MarketCap: 1e6}},
		Log:      logging.Discard(),
	}

	j := New(logging.Discard())
	j.RunNow("refresh", Refresh(r))
	j.Stop()

	id, ok := reg.LookupSymbol("bncx")
	require.True(t, ok)
	require.Equal(t, "brand-new-coin", id)
}
