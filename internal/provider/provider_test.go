package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_SwapsInvertedHighLow(t *testing.T) {
	t.Parallel()

	r, err := Record{CanonicalID: "bitcoin", Price: 100, DayHigh: Float(90), DayLow: Float(110)}.Normalize()
	require.NoError(t, err)
	require.Equal(t, 110.0, *r.DayHigh)
	require.Equal(t, 90.0, *r.DayLow)
}

func TestNormalize_AppliesDefaults(t *testing.T) {
	t.Parallel()

	r, err := Record{CanonicalID: "solana", Price: 1, Volume: math.NaN(), MarketCap: Float(math.Inf(1))}.Normalize()
	require.NoError(t, err)
	require.Equal(t, "solana", r.DisplayName)
	require.Equal(t, "SOLANA", r.Symbol)
	require.Equal(t, Unknown, r.Class)
	require.Zero(t, r.Volume)
	require.Nil(t, r.MarketCap)
	require.False(t, r.FetchedAt.IsZero())
}

func TestNormalize_RejectsBadPrice(t *testing.T) {
	t.Parallel()

	for _, p := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := Record{CanonicalID: "x", Price: p}.Normalize()
		require.Errorf(t, err, "price %v", p)
	}
	_, err := Record{Price: 1}.Normalize()
	require.Error(t, err)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindNotFound, KindOf(NotFound("coincap", "x")))
	require.Equal(t, KindUnmapped, KindOf(fmt.Errorf("wrapped: %w", Unmapped("binance", "x"))))
	require.Equal(t, KindMalformed, KindOf(Malformed("yahoo", "missing %s", "price")))
	require.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	require.True(t, IsTimeout(Transient("coingecko", context.DeadlineExceeded)))
}

func TestUnresolvedError_Message(t *testing.T) {
	t.Parallel()

	err := error(&UnresolvedError{
		Query:    "nope",
		Class:    Crypto,
		Attempts: []Attempt{NewAttempt("coingecko", NotFound("coingecko", "nope"))},
	})
	var ue *UnresolvedError
	require.True(t, errors.As(err, &ue))
	require.Contains(t, err.Error(), "coingecko=not_found")
}

func TestParseAssetClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, Equity, ParseAssetClass("Stock"))
	require.Equal(t, Crypto, ParseAssetClass("crypto"))
	require.Equal(t, Unknown, ParseAssetClass(""))
}
