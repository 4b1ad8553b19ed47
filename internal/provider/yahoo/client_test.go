package yahoo_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketfeed/internal/httpx/httpxmock"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/yahoo"
	"marketfeed/internal/symbols"
)

type routes map[string]string

// serve answers quote requests with r["quote"] and chart requests with
// r[interval]. Missing routes answer 404 in Yahoo's chart error shape.
func serve(t *testing.T, r routes) (*yahoo.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		key := "quote"
		if req.URL.Path == "/v8/finance/chart/AAPL" {
			key = req.URL.Query().Get("interval")
		}
		body, ok := r[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return yahoo.New(symbols.Default(), yahoo.WithBaseURL(srv.URL), yahoo.WithHTTPClient(srv.Client())), &calls
}

const fullQuote = `{"quoteResponse":{"result":[{
  "symbol":"AAPL","longName":"Apple Inc.","regularMarketPrice":189.987,
  "regularMarketPreviousClose":187.5,"regularMarketOpen":188.01,
  "regularMarketDayHigh":190.3,"regularMarketDayLow":187.2,"regularMarketVolume":51234567,
  "marketCap":2950000000000,"trailingPE":29.4,"dividendYield":0.5,
  "bid":189.9,"ask":190.1,"regularMarketTime":1700000000
}]}}`

func TestFetch_RegularMarketPrice(t *testing.T) {
	t.Parallel()

	// Arrange
	c, calls := serve(t, routes{"quote": fullQuote})

	// Act
	rec, err := c.Fetch(t.Context(), "aapl")

	// Assert
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, yahoo.PriceRegularMarket, rec.PriceSource)
	require.Equal(t, 189.99, rec.Price)
	require.Equal(t, "Apple Inc.", rec.DisplayName)
	require.Equal(t, provider.Equity, rec.Class)
	require.Equal(t, 187.5, *rec.PreviousClose)
	require.Equal(t, 2.49, *rec.Change24h)
	require.Equal(t, 1.33, *rec.ChangePct24h)
	require.Equal(t, 190.3, *rec.DayHigh)
	require.Equal(t, 51234567.0, rec.Volume)
	require.Equal(t, 189.9, *rec.Bid)
	require.Equal(t, 29.4, *rec.PERatio)
}

func TestFetch_BidAskMidpoint(t *testing.T) {
	t.Parallel()

	c, _ := serve(t, routes{"quote": `{"quoteResponse":{"result":[{"symbol":"AAPL","shortName":"Apple","bid":100,"ask":101}]}}`})

	rec, err := c.Fetch(t.Context(), "AAPL")

	require.NoError(t, err)
	require.Equal(t, yahoo.PriceBidAskMid, rec.PriceSource)
	require.Equal(t, 100.5, rec.Price)
	require.Equal(t, "Apple", rec.DisplayName)
}

func TestFetch_FallsThroughToFiveMinuteBars(t *testing.T) {
	t.Parallel()

	// Arrange: the quote has no price and the 1m chart has only null closes.
	c, calls := serve(t, routes{
		"quote": `{"quoteResponse":{"result":[{"symbol":"AAPL","regularMarketPrice":null}]}}`,
		"1m":    `{"chart":{"result":[{"meta":{"chartPreviousClose":100},"indicators":{"quote":[{"close":[null,null]}]}}]}}`,
		"5m":    `{"chart":{"result":[{"meta":{"chartPreviousClose":100},"indicators":{"quote":[{"open":[101],"high":[103,104],"low":[99,100],"close":[102,102.456,null],"volume":[10,20]}]}}]}}`,
	})

	// Act
	rec, err := c.Fetch(t.Context(), "AAPL")

	// Assert
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, yahoo.PriceHistory5m, rec.PriceSource)
	require.Equal(t, 102.46, rec.Price)
	require.Equal(t, 100.0, *rec.PreviousClose)
	require.Equal(t, 104.0, *rec.DayHigh)
	require.Equal(t, 99.0, *rec.DayLow)
	require.Equal(t, 101.0, *rec.Open)
	require.Equal(t, 30.0, rec.Volume)
}

func TestFetch_DailyBar(t *testing.T) {
	t.Parallel()

	c, _ := serve(t, routes{
		"quote": `{"quoteResponse":{"result":[]}}`,
		"1m":    `{"chart":{"result":[{"indicators":{"quote":[{}]}}]}}`,
		"5m":    `{"chart":{"result":[{"indicators":{"quote":[{"close":[]}]}}]}}`,
		"1d":    `{"chart":{"result":[{"indicators":{"quote":[{"close":[180,181]}]}}]}}`,
	})

	rec, err := c.Fetch(t.Context(), "AAPL")

	require.NoError(t, err)
	require.Equal(t, yahoo.PriceHistory1d, rec.PriceSource)
	require.Equal(t, 181.0, rec.Price)
	require.Equal(t, "AAPL", rec.DisplayName)
}

func TestFetch_UnknownTicker(t *testing.T) {
	t.Parallel()

	c, calls := serve(t, routes{"quote": `{"quoteResponse":{"result":[]}}`})

	_, err := c.Fetch(t.Context(), "AAPL")

	require.Equal(t, provider.KindNotFound, provider.KindOf(err))
	require.Equal(t, int32(2), calls.Load())
}

func TestFetch_CryptoSymbolIsTypeMismatch(t *testing.T) {
	t.Parallel()

	// Arrange: no request may be made.
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Times(0)
	c := yahoo.New(symbols.Default(), yahoo.WithHTTPClient(hc))

	// Act
	_, err := c.Fetch(t.Context(), "btc")

	// Assert
	var tm *provider.TypeMismatchError
	require.True(t, errors.As(err, &tm))
	require.Equal(t, provider.Crypto, tm.Got)
	require.Equal(t, "BTC is a crypto symbol, not an equity", err.Error())
}
