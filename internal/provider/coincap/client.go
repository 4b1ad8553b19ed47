// Package coincap adapts the CoinCap REST API, the secondary crypto source.
package coincap

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
)

const (
	Name = "coincap"
	// SearchName tags records found through the search fallback.
	SearchName = "coincap_search"

	defaultBaseURL = "https://api.coincap.io/v2"
)

// Client is a client for the CoinCap API.
type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	header     http.Header
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

// WithAPIKey sends key as a bearer token, which raises the rate limit.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key != "" {
			c.header.Set("Authorization", "Bearer "+key)
		}
	}
}

func New(options ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, httpClient: http.DefaultClient, header: http.Header{}}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// Fetch reads /assets/{id}. If CoinCap does not know id under that name the
// first hit of /assets?search=id is used instead.
func (c *Client) Fetch(ctx context.Context, id string) (provider.Record, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return provider.Record{}, provider.NotFound(Name, id)
	}

	res, err := httpx.GetJSON(ctx, c.httpClient, Name, c.baseURL+"/assets/"+url.PathEscape(id), nil, c.header)
	switch {
	case err == nil && res.Get("data").IsObject():
		return record(id, res.Get("data"), Name, res.Get("timestamp").Int())
	case err != nil && provider.KindOf(err) != provider.KindNotFound:
		return provider.Record{}, err
	}

	res, err = httpx.GetJSON(ctx, c.httpClient, Name, c.baseURL+"/assets", url.Values{"search": {id}, "limit": {"5"}}, c.header)
	if err != nil {
		return provider.Record{}, err
	}
	hits := res.Get("data").Array()
	if len(hits) == 0 {
		return provider.Record{}, provider.NotFound(Name, id)
	}
	return record(id, hits[0], SearchName, res.Get("timestamp").Int())
}

func record(requested string, asset gjson.Result, source string, tsMillis int64) (provider.Record, error) {
	price, ok := httpx.Number(asset.Get("priceUsd"))
	if !ok {
		return provider.Record{}, provider.Malformed(source, "asset %q has no priceUsd", requested)
	}
	id := asset.Get("id").String()
	if id == "" {
		id = requested
	}
	r := provider.Record{
		CanonicalID:  id,
		DisplayName:  asset.Get("name").String(),
		Symbol:       strings.ToUpper(asset.Get("symbol").String()),
		Class:        provider.Crypto,
		Price:        price,
		MarketCap:    httpx.OptNumber(asset.Get("marketCapUsd")),
		ChangePct24h: httpx.OptNumber(asset.Get("changePercent24Hr")),
		Source:       source,
	}
	if v, ok := httpx.Number(asset.Get("volumeUsd24Hr")); ok {
		r.Volume = v
	}
	if tsMillis > 0 {
		r.LastUpdated = time.UnixMilli(tsMillis).UTC()
	}
	out, err := r.Normalize()
	if err != nil {
		return provider.Record{}, provider.Malformed(source, "%v", err)
	}
	return out, nil
}
