// Package binance prices a fixed allow-list of major coins from the Binance
// 24h ticker. It is the last crypto fallback.
package binance

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
)

const (
	Name = "binance"

	defaultBaseURL = "https://api.binance.com"
	quoteAsset     = "USDT"
)

// Pairs maps a coin id or ticker symbol onto an exchange trading pair.
type Pairs interface {
	Pair(idOrSymbol string) (string, bool)
}

type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	pairs      Pairs
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

func New(pairs Pairs, options ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, httpClient: http.DefaultClient, pairs: pairs}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// Fetch returns KindUnmapped without any request when id has no pair.
func (c *Client) Fetch(ctx context.Context, id string) (provider.Record, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	pair, ok := c.pairs.Pair(id)
	if !ok {
		return provider.Record{}, provider.Unmapped(Name, id)
	}

	res, err := httpx.GetJSON(ctx, c.httpClient, Name, c.baseURL+"/api/v3/ticker/24hr", url.Values{"symbol": {pair}}, nil)
	if err != nil {
		return provider.Record{}, err
	}
	price, ok := httpx.Number(res.Get("lastPrice"))
	if !ok {
		return provider.Record{}, provider.Malformed(Name, "ticker %s has no lastPrice", pair)
	}

	symbol := strings.TrimSuffix(pair, quoteAsset)
	r := provider.Record{
		CanonicalID:  id,
		DisplayName:  strings.ToUpper(id),
		Symbol:       symbol,
		Class:        provider.Crypto,
		Price:        price,
		DayHigh:      httpx.OptNumber(res.Get("highPrice")),
		DayLow:       httpx.OptNumber(res.Get("lowPrice")),
		ChangePct24h: httpx.OptNumber(res.Get("priceChangePercent")),
		Change24h:    httpx.OptNumber(res.Get("priceChange")),
		Source:       Name,
	}
	if v, ok := httpx.Number(res.Get("volume")); ok {
		r.Volume = v
	}
	if ms := res.Get("closeTime").Int(); ms > 0 {
		r.LastUpdated = time.UnixMilli(ms).UTC()
	}
	out, err := r.Normalize()
	if err != nil {
		return provider.Record{}, provider.Malformed(Name, "%v", err)
	}
	return out, nil
}
