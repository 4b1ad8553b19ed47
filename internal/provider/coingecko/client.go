// Package coingecko adapts the CoinGecko public API, the primary crypto source.
package coingecko

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
)

const (
	// Name tags records built from the full detail call.
	Name = "coingecko"
	// SimpleName tags reduced records built from the simple price call alone.
	SimpleName = "coingecko_simple"

	defaultBaseURL = "https://api.coingecko.com/api/v3"
)

// Client is a client for the CoinGecko API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient httpx.HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// Option is a configuration option for the CoinGecko client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient httpx.HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey authenticates with a demo API key.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key != "" {
			c.header.Set("x-cg-demo-api-key", key)
		}
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

func New(options ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	return httpx.GetJSON(ctx, c.httpClient, Name, c.baseURL+path, query, c.header)
}

// Fetch reads the simple price for id and enriches it with the coin detail.
// When only the detail call fails the reduced simple record is returned.
func (c *Client) Fetch(ctx context.Context, id string) (provider.Record, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return provider.Record{}, provider.NotFound(Name, id)
	}

	simple, err := c.get(ctx, "/simple/price", url.Values{
		"ids":                     {id},
		"vs_currencies":           {"usd"},
		"include_market_cap":      {"true"},
		"include_24hr_vol":        {"true"},
		"include_24hr_change":     {"true"},
		"include_last_updated_at": {"true"},
		"precision":               {"8"},
	})
	if err != nil {
		return provider.Record{}, err
	}
	coin, ok := member(simple, id)
	if !ok {
		return provider.Record{}, provider.NotFound(Name, id)
	}
	price, ok := httpx.Number(coin.Get("usd"))
	if !ok {
		return provider.Record{}, provider.Malformed(Name, "simple price for %q has no usd field", id)
	}

	detail, err := c.get(ctx, "/coins/"+url.PathEscape(id), url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"market_data":    {"true"},
		"community_data": {"false"},
		"developer_data": {"false"},
		"sparkline":      {"false"},
	})
	if err != nil || !detail.Get("market_data").IsObject() {
		return finish(simpleRecord(id, price, coin))
	}
	return finish(detailRecord(id, price, detail))
}

func simpleRecord(id string, price float64, coin gjson.Result) provider.Record {
	r := provider.Record{
		CanonicalID:  id,
		DisplayName:  strings.ToUpper(id),
		Class:        provider.Crypto,
		Price:        price,
		MarketCap:    httpx.OptNumber(coin.Get("usd_market_cap")),
		ChangePct24h: httpx.OptNumber(coin.Get("usd_24h_change")),
		Source:       SimpleName,
	}
	if v, ok := httpx.Number(coin.Get("usd_24h_vol")); ok {
		r.Volume = v
	}
	if ts := coin.Get("last_updated_at").Int(); ts > 0 {
		r.LastUpdated = time.Unix(ts, 0).UTC()
	}
	return r
}

func detailRecord(id string, price float64, detail gjson.Result) provider.Record {
	md := detail.Get("market_data")
	r := provider.Record{
		CanonicalID:  id,
		DisplayName:  detail.Get("name").String(),
		Symbol:       strings.ToUpper(detail.Get("symbol").String()),
		Class:        provider.Crypto,
		Price:        price,
		DayHigh:      httpx.OptNumber(md.Get("high_24h.usd")),
		DayLow:       httpx.OptNumber(md.Get("low_24h.usd")),
		MarketCap:    httpx.OptNumber(md.Get("market_cap.usd")),
		ChangePct24h: httpx.OptNumber(md.Get("price_change_percentage_24h")),
		Change24h:    httpx.OptNumber(md.Get("price_change_24h")),
		Source:       Name,
	}
	if v, ok := httpx.Number(md.Get("total_volume.usd")); ok {
		r.Volume = v
	}
	if ts, err := time.Parse(time.RFC3339, md.Get("last_updated").String()); err == nil {
		r.LastUpdated = ts.UTC()
	}
	return r
}

func finish(r provider.Record) (provider.Record, error) {
	out, err := r.Normalize()
	if err != nil {
		return provider.Record{}, provider.Malformed(r.Source, "%v", err)
	}
	return out, nil
}

// member looks key up among the top-level members of obj. Coin ids may
// contain characters that are significant in gjson paths.
func member(obj gjson.Result, key string) (gjson.Result, bool) {
	var found gjson.Result
	ok := false
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

// Search runs the fuzzy coin search. Spaces in query are folded to dashes.
func (c *Client) Search(ctx context.Context, query string) ([]provider.SearchMatch, error) {
	clean := strings.ToLower(strings.Join(strings.Fields(query), "-"))
	if clean == "" {
		return nil, nil
	}
	res, err := c.get(ctx, "/search", url.Values{"query": {clean}})
	if err != nil {
		return nil, err
	}
	coins := res.Get("coins")
	if !coins.IsArray() {
		return nil, provider.Malformed(Name, "search response has no coins array")
	}
	var out []provider.SearchMatch
	for _, coin := range coins.Array() {
		id := coin.Get("id").String()
		if id == "" {
			continue
		}
		out = append(out, provider.SearchMatch{
			ID:     id,
			Name:   coin.Get("name").String(),
			Symbol: strings.ToUpper(coin.Get("symbol").String()),
		})
	}
	return out, nil
}

// TopMarkets lists up to n coins ordered by market capitalisation.
func (c *Client) TopMarkets(ctx context.Context, n int) ([]provider.Listing, error) {
	if n <= 0 || n > 250 {
		n = 250
	}
	res, err := c.get(ctx, "/coins/markets", url.Values{
		"vs_currency": {"usd"},
		"order":       {"market_cap_desc"},
		"per_page":    {strconv.Itoa(n)},
		"page":        {"1"},
	})
	if err != nil {
		return nil, err
	}
	if !res.IsArray() {
		return nil, provider.Malformed(Name, "markets response is not an array")
	}
	out := make([]provider.Listing, 0, n)
	for _, m := range res.Array() {
		l := provider.Listing{
			ID:     m.Get("id").String(),
			Symbol: m.Get("symbol").String(),
			Name:   m.Get("name").String(),
		}
		if l.ID == "" {
			continue
		}
		l.MarketCap, _ = httpx.Number(m.Get("market_cap"))
		out = append(out, l)
	}
	return out, nil
}
