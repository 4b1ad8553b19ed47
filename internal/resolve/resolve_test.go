package resolve

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketfeed/internal/cache"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/providermock"
	"marketfeed/internal/symbols"
)

// fakeFetcher answers from a fixed table and counts calls per id.
type fakeFetcher struct {
	mu      sync.Mutex
	records map[string]provider.Record
	calls   map[string]int
}

func newFake(records map[string]provider.Record) *fakeFetcher {
	return &fakeFetcher{records: records, calls: map[string]int{}}
}

func (f *fakeFetcher) fetch(id string) (provider.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return provider.Record{}, &provider.UnresolvedError{Query: id, Attempts: []provider.Attempt{
		provider.NewAttempt("coingecko", provider.NotFound("coingecko", id)),
	}}
}

func (f *fakeFetcher) FetchCrypto(_ context.Context, id string) (provider.Record, error) {
	return f.fetch(id)
}

func (f *fakeFetcher) FetchEquity(_ context.Context, ticker string) (provider.Record, error) {
	return f.fetch(ticker)
}

func (f *fakeFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func rec(id string, price float64) provider.Record {
	return provider.Record{CanonicalID: id, Price: price}
}

func TestResolve_SymbolBeatsTicker(t *testing.T) {
	t.Parallel()

	// Arrange: LINK is both a coin and a plausible ticker.
	crypto := newFake(map[string]provider.Record{"chainlink": rec("chainlink", 14)})
	equity := newFake(map[string]provider.Record{"LINK": rec("LINK", 3)})
	r := New(crypto, equity, nil, symbols.Default(), cache.New(), nil)

	// Act
	rq, err := r.Resolve(t.Context(), "LINK")

	// Assert
	require.NoError(t, err)
	require.Equal(t, provider.Crypto, rq.Class)
	require.Equal(t, provider.DetectedCryptoSymbol, rq.Method)
	require.Equal(t, ConfidenceSymbol, rq.Confidence)
	require.Equal(t, "chainlink", rq.CanonicalID)
	require.Zero(t, equity.count("LINK"))
}

func TestResolve_Name(t *testing.T) {
	t.Parallel()

	crypto := newFake(map[string]provider.Record{"shiba-inu": rec("shiba-inu", 0.00001)})
	r := New(crypto, newFake(nil), nil, symbols.Default(), cache.New(), nil)

	rq, err := r.Resolve(t.Context(), "Shiba Inu")

	require.NoError(t, err)
	require.Equal(t, provider.DetectedCryptoName, rq.Method)
	require.Equal(t, ConfidenceName, rq.Confidence)
}

func TestResolve_LiteralID(t *testing.T) {
	t.Parallel()

	crypto := newFake(map[string]provider.Record{"pepe": rec("pepe", 0.00001)})
	r := New(crypto, newFake(nil), nil, symbols.Default(), cache.New(), nil)

	rq, err := r.Resolve(t.Context(), "Pepe")

	require.NoError(t, err)
	require.Equal(t, provider.DetectedCryptoID, rq.Method)
	require.Equal(t, "pepe", rq.CanonicalID)
}

func TestResolve_CanonicalIDFollowsRecord(t *testing.T) {
	t.Parallel()

	// Arrange: the source answered for a different coin than was asked for.
	crypto := newFake(map[string]provider.Record{"pepe": rec("pepe-token", 0.00001)})
	r := New(crypto, newFake(nil), nil, symbols.Default(), cache.New(), nil)

	// Act
	rq, err := r.Resolve(t.Context(), "pepe")

	// Assert
	require.NoError(t, err)
	require.Equal(t, "pepe-token", rq.CanonicalID)
	require.Equal(t, rq.Record.CanonicalID, rq.CanonicalID)
}

func TestResolve_Ticker(t *testing.T) {
	t.Parallel()

	crypto := newFake(nil)
	equity := newFake(map[string]provider.Record{"AAPL": rec("AAPL", 190)})
	r := New(crypto, equity, nil, symbols.Default(), cache.New(), nil)

	rq, err := r.Resolve(t.Context(), "aapl")

	require.NoError(t, err)
	require.Equal(t, provider.Equity, rq.Class)
	require.Equal(t, provider.DetectedStockTicker, rq.Method)
	require.Equal(t, ConfidenceTicker, rq.Confidence)
	require.Equal(t, "AAPL", rq.CanonicalID)
	require.Equal(t, 1, crypto.count("aapl"))
}

func TestResolve_SearchFallback(t *testing.T) {
	t.Parallel()

	// Arrange: a multi-word query skips the literal id and ticker steps.
	ctrl := gomock.NewController(t)
	search := providermock.NewMockSearcher(ctrl)
	search.EXPECT().
		Search(gomock.Any(), "wrapped bitcoin").
		Return([]provider.SearchMatch{{ID: "wrapped-bitcoin", Name: "Wrapped Bitcoin", Symbol: "WBTC"}}, nil).
		Times(1)
	crypto := newFake(map[string]provider.Record{"wrapped-bitcoin": rec("wrapped-bitcoin", 50000)})
	r := New(crypto, newFake(nil), search, symbols.Default(), cache.New(), nil)

	// Act
	rq, err := r.Resolve(t.Context(), "wrapped bitcoin")

	// Assert
	require.NoError(t, err)
	require.Equal(t, provider.DetectedSearchMatch, rq.Method)
	require.Equal(t, ConfidenceSearch, rq.Confidence)
	require.Equal(t, "Wrapped Bitcoin", rq.MatchedName)
	require.Zero(t, crypto.count("wrapped bitcoin"))
}

func TestResolve_UnresolvedIsCachedWithSuggestions(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	search := providermock.NewMockSearcher(ctrl)
	search.EXPECT().Search(gomock.Any(), "zzqx").Return(nil, nil).Times(1)
	crypto, equity := newFake(nil), newFake(nil)
	r := New(crypto, equity, search, symbols.Default(), cache.New(), nil)

	// Act: the second call is served from the cache.
	_, err := r.Resolve(t.Context(), "zzqx")
	_, again := r.Resolve(t.Context(), "ZZQX")

	// Assert
	var ue *provider.UnresolvedError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, provider.Unknown, ue.Class)
	require.NotEmpty(t, ue.Attempts)
	require.True(t, strings.HasPrefix(ue.Suggestions[0], "'ZZQX' could be a stock ticker"))
	require.Len(t, ue.Suggestions, 5)
	require.Same(t, ue, again)
	require.Equal(t, 1, crypto.count("zzqx"))
	require.Equal(t, 1, equity.count("ZZQX"))
}

func TestResolve_KnownCoinDownSuggestsID(t *testing.T) {
	t.Parallel()

	r := New(newFake(nil), newFake(nil), nil, symbols.Default(), cache.New(), nil)

	_, err := r.Resolve(t.Context(), "doge")

	var ue *provider.UnresolvedError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, "'doge' is a cryptocurrency. Try searching for 'dogecoin'", ue.Suggestions[0])
}

func TestResolve_Empty(t *testing.T) {
	t.Parallel()

	r := New(newFake(nil), newFake(nil), nil, symbols.Default(), cache.New(), nil)

	_, err := r.Resolve(t.Context(), "   ")

	var ue *provider.UnresolvedError
	require.True(t, errors.As(err, &ue))
}

func TestLooksLikeTicker(t *testing.T) {
	t.Parallel()

	for q, want := range map[string]bool{"AAPL": true, "f": true, "GOOGLE": false, "BRK.B": false, "AB1": false, "": false} {
		require.Equalf(t, want, looksLikeTicker(q), "query %q", q)
	}
}
