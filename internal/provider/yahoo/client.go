// Package yahoo adapts the Yahoo Finance quote and chart endpoints, the equity
// source. Price discovery walks a ladder from the live quote down to the last
// daily bar and records which step produced the price.
package yahoo

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
)

const (
	Name = "yahoo"

	defaultBaseURL = "https://query1.finance.yahoo.com"
)

// Price source tags, in ladder order.
const (
	PriceRegularMarket = "regular_market_price"
	PriceCurrent       = "current_price"
	PriceBidAskMid     = "bid_ask_mid"
	PriceHistory1m     = "history_1m"
	PriceHistory5m     = "history_5m"
	PriceHistory1d     = "history_1d"
)

// CryptoSymbols reports whether a ticker is a curated crypto symbol.
type CryptoSymbols interface {
	IsCuratedSymbol(q string) bool
}

type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	crypto     CryptoSymbols
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient httpx.HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(crypto CryptoSymbols, options ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, httpClient: http.DefaultClient, crypto: crypto}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

type chartStep struct {
	tag      string
	rng      string
	interval string
}

var chartLadder = []chartStep{
	{PriceHistory1m, "1d", "1m"},
	{PriceHistory5m, "1d", "5m"},
	{PriceHistory1d, "5d", "1d"},
}

// Fetch discovers a price for ticker. A known crypto symbol is refused with a
// TypeMismatchError before any request is made.
func (c *Client) Fetch(ctx context.Context, ticker string) (provider.Record, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return provider.Record{}, provider.NotFound(Name, ticker)
	}
	if c.crypto != nil && c.crypto.IsCuratedSymbol(ticker) {
		return provider.Record{}, &provider.TypeMismatchError{Query: ticker, Want: provider.Equity, Got: provider.Crypto}
	}

	q, lastErr := c.quote(ctx, ticker)
	price, tag, ok := quotePrice(q)

	var bars gjson.Result
	if !ok {
		for _, step := range chartLadder {
			chart, err := c.chart(ctx, ticker, step.rng, step.interval)
			if err == nil {
				if v, found := lastClose(chart); found {
					price, tag, ok, bars = v, step.tag, true, chart
					break
				}
				err = provider.Malformed(Name, "%s chart for %s has no closes", step.interval, ticker)
			}
			lastErr = err
			if provider.KindOf(err) == provider.KindNotFound {
				break
			}
		}
	}
	if !ok {
		if lastErr == nil {
			lastErr = provider.Malformed(Name, "no usable price for %s", ticker)
		}
		return provider.Record{}, lastErr
	}

	r := buildRecord(ticker, price, tag, q, bars)
	out, err := r.Normalize()
	if err != nil {
		return provider.Record{}, provider.Malformed(Name, "%v", err)
	}
	return out, nil
}

func (c *Client) quote(ctx context.Context, ticker string) (gjson.Result, error) {
	res, err := httpx.GetJSON(ctx, c.httpClient, Name, c.baseURL+"/v7/finance/quote", url.Values{"symbols": {ticker}}, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	q := res.Get("quoteResponse.result.0")
	if !q.Exists() {
		return gjson.Result{}, provider.NotFound(Name, ticker)
	}
	return q, nil
}

func (c *Client) chart(ctx context.Context, ticker, rng, interval string) (gjson.Result, error) {
	res, err := httpx.GetJSON(ctx, c.httpClient, Name, c.baseURL+"/v8/finance/chart/"+url.PathEscape(ticker),
		url.Values{"range": {rng}, "interval": {interval}}, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	chart := res.Get("chart.result.0")
	if !chart.Exists() {
		if strings.EqualFold(res.Get("chart.error.code").String(), "Not Found") {
			return gjson.Result{}, provider.NotFound(Name, ticker)
		}
		return gjson.Result{}, provider.Malformed(Name, "chart for %s has no result", ticker)
	}
	return chart, nil
}

func quotePrice(q gjson.Result) (float64, string, bool) {
	if !q.Exists() {
		return 0, "", false
	}
	if v, ok := positive(q.Get("regularMarketPrice")); ok {
		return v, PriceRegularMarket, true
	}
	if v, ok := positive(q.Get("currentPrice")); ok {
		return v, PriceCurrent, true
	}
	bid, okBid := positive(q.Get("bid"))
	ask, okAsk := positive(q.Get("ask"))
	if okBid && okAsk {
		return (bid + ask) / 2, PriceBidAskMid, true
	}
	return 0, "", false
}

func positive(r gjson.Result) (float64, bool) {
	v, ok := httpx.Number(r)
	return v, ok && v > 0
}

func lastClose(chart gjson.Result) (float64, bool) {
	closes := chart.Get("indicators.quote.0.close").Array()
	for i := len(closes) - 1; i >= 0; i-- {
		if v, ok := positive(closes[i]); ok {
			return v, true
		}
	}
	return 0, false
}

func buildRecord(ticker string, price float64, tag string, q, bars gjson.Result) provider.Record {
	name := q.Get("longName").String()
	if name == "" {
		name = q.Get("shortName").String()
	}
	if name == "" {
		name = ticker
	}

	r := provider.Record{
		CanonicalID:   ticker,
		DisplayName:   name,
		Symbol:        ticker,
		Class:         provider.Equity,
		Price:         round2(price),
		MarketCap:     httpx.OptNumber(q.Get("marketCap")),
		PERatio:       httpx.OptNumber(q.Get("trailingPE")),
		DividendYield: dividendYield(q),
		Bid:           optPositive(q.Get("bid")),
		Ask:           optPositive(q.Get("ask")),
		PriceSource:   tag,
		Source:        Name,
	}

	prev := optPositive(q.Get("regularMarketPreviousClose"))
	if prev == nil {
		prev = optPositive(bars.Get("meta.chartPreviousClose"))
	}
	if prev != nil {
		r.PreviousClose = provider.Float(round2(*prev))
		change := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(*prev))
		r.Change24h = provider.Float(change.Round(2).InexactFloat64())
		pct := change.Div(decimal.NewFromFloat(*prev)).Mul(decimal.NewFromInt(100))
		r.ChangePct24h = provider.Float(pct.Round(2).InexactFloat64())
	}

	r.Open = roundPtr(optPositive(q.Get("regularMarketOpen")))
	r.DayHigh = roundPtr(optPositive(q.Get("regularMarketDayHigh")))
	r.DayLow = roundPtr(optPositive(q.Get("regularMarketDayLow")))
	if v, ok := httpx.Number(q.Get("regularMarketVolume")); ok {
		r.Volume = v
	}
	if bars.Exists() && tag != PriceHistory1d {
		fillFromBars(&r, bars)
	}

	if ts := q.Get("regularMarketTime").Int(); ts > 0 {
		r.LastUpdated = time.Unix(ts, 0).UTC()
	} else if ts := bars.Get("meta.regularMarketTime").Int(); ts > 0 {
		r.LastUpdated = time.Unix(ts, 0).UTC()
	}
	return r
}

// fillFromBars derives missing session OHLCV from intraday bars.
func fillFromBars(r *provider.Record, bars gjson.Result) {
	quote := bars.Get("indicators.quote.0")
	var open, high, low *float64
	var volume float64
	for _, v := range quote.Get("open").Array() {
		if x, ok := positive(v); ok {
			open = provider.Float(x)
			break
		}
	}
	for _, v := range quote.Get("high").Array() {
		if x, ok := positive(v); ok && (high == nil || x > *high) {
			high = provider.Float(x)
		}
	}
	for _, v := range quote.Get("low").Array() {
		if x, ok := positive(v); ok && (low == nil || x < *low) {
			low = provider.Float(x)
		}
	}
	for _, v := range quote.Get("volume").Array() {
		if x, ok := httpx.Number(v); ok && x > 0 {
			volume += x
		}
	}
	if r.Open == nil {
		r.Open = roundPtr(open)
	}
	if r.DayHigh == nil {
		r.DayHigh = roundPtr(high)
	}
	if r.DayLow == nil {
		r.DayLow = roundPtr(low)
	}
	if r.Volume == 0 {
		r.Volume = volume
	}
}

func dividendYield(q gjson.Result) *float64 {
	if v := httpx.OptNumber(q.Get("dividendYield")); v != nil {
		return v
	}
	return httpx.OptNumber(q.Get("trailingAnnualDividendYield"))
}

func optPositive(r gjson.Result) *float64 {
	if v, ok := positive(r); ok {
		return &v
	}
	return nil
}

func round2(v float64) float64 { return decimal.NewFromFloat(v).Round(2).InexactFloat64() }

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return provider.Float(round2(*v))
}
