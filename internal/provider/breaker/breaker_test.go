package breaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketfeed/internal/provider"
	"marketfeed/internal/provider/providermock"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	// Arrange
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := New("coincap", Config{FailureThreshold: 2, Cooldown: 10 * time.Second}, nil)
	b.now = func() time.Time { return now }

	// Act + Assert: two failures trip it.
	b.RecordFailure()
	require.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.Allow())

	// After the cooldown a trial is allowed; success closes it.
	now = now.Add(11 * time.Second)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())
	b.RecordSuccess()
	require.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := New("coincap", Config{FailureThreshold: 1, Cooldown: time.Second}, nil)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.Allow())
}

func TestBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	t.Parallel()

	// Arrange
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := New("coingecko", Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: time.Second}, nil)
	b.now = func() time.Time { return now }
	b.RecordFailure()
	now = now.Add(2 * time.Second)

	// Act + Assert: a second caller waits for the trial in flight.
	require.True(t, b.Allow())
	require.False(t, b.Allow())
	b.RecordSuccess()
	require.Equal(t, StateHalfOpen, b.State())

	// The next trial goes through once the first has reported.
	require.True(t, b.Allow())
	require.False(t, b.Allow())
	b.Release()
	require.True(t, b.Allow())
	b.RecordSuccess()
	require.Equal(t, StateClosed, b.State())
	require.True(t, b.Allow())
	require.True(t, b.Allow())
}

func TestSource_OpenBreakerSkipsUpstream(t *testing.T) {
	t.Parallel()

	// Arrange: the upstream fails once, then must not be called again.
	ctrl := gomock.NewController(t)
	src := providermock.NewMockSource(ctrl)
	src.EXPECT().Name().Return("coincap").AnyTimes()
	src.EXPECT().
		Fetch(gomock.Any(), "bitcoin").
		Return(provider.Record{}, provider.Transient("coincap", errors.New("503"))).
		Times(1)
	s := Wrap(src, Config{FailureThreshold: 1, Cooldown: time.Hour}, nil)

	// Act
	_, first := s.Fetch(t.Context(), "bitcoin")
	_, second := s.Fetch(t.Context(), "bitcoin")

	// Assert
	require.Error(t, first)
	require.ErrorIs(t, second, ErrOpen)
	require.Equal(t, provider.KindTransient, provider.KindOf(second))
}

func TestSource_NotFoundDoesNotTrip(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := providermock.NewMockSource(ctrl)
	src.EXPECT().Name().Return("coingecko").AnyTimes()
	src.EXPECT().
		Fetch(gomock.Any(), gomock.Any()).
		Return(provider.Record{}, provider.NotFound("coingecko", "x")).
		Times(3)
	s := Wrap(src, Config{FailureThreshold: 1}, nil)

	for range 3 {
		_, err := s.Fetch(t.Context(), "x")
		require.Equal(t, provider.KindNotFound, provider.KindOf(err))
	}
	require.Equal(t, StateClosed, s.Breaker.State())
}

func TestSource_CallerCancellationDoesNotTrip(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := providermock.NewMockSource(ctrl)
	src.EXPECT().Name().Return("yahoo").AnyTimes()
	ctx, cancel := context.WithCancel(t.Context())
	src.EXPECT().
		Fetch(gomock.Any(), "AAPL").
		DoAndReturn(func(ctx context.Context, _ string) (provider.Record, error) {
			cancel()
			return provider.Record{}, provider.Transient("yahoo", ctx.Err())
		})
	s := Wrap(src, Config{FailureThreshold: 1}, nil)

	_, err := s.Fetch(ctx, "AAPL")

	require.Error(t, err)
	require.Equal(t, StateClosed, s.Breaker.State())
}

func TestSource_LocalThrottlingDoesNotTrip(t *testing.T) {
	t.Parallel()

	// Arrange: the limiter below the breaker refuses every call.
	ctrl := gomock.NewController(t)
	src := providermock.NewMockSource(ctrl)
	src.EXPECT().Name().Return("coingecko").AnyTimes()
	src.EXPECT().
		Fetch(gomock.Any(), "bitcoin").
		Return(provider.Record{}, provider.Transient("coingecko", fmt.Errorf("%w: %w", provider.ErrThrottled, context.DeadlineExceeded))).
		Times(3)
	s := Wrap(src, Config{FailureThreshold: 1}, nil)

	// Act
	for range 3 {
		_, err := s.Fetch(t.Context(), "bitcoin")
		require.ErrorIs(t, err, provider.ErrThrottled)
	}

	// Assert
	require.Equal(t, StateClosed, s.Breaker.State())
}
