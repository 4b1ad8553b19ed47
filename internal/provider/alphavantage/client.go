// Package alphavantage adapts the Alpha Vantage GLOBAL_QUOTE endpoint, an
// optional equity fallback that needs an API key.
package alphavantage

import (
	"context"
	"errors"
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
	Name = "alphavantage"

	defaultBaseURL = "https://www.alphavantage.co"
)

type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	key        string
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

func New(key string, options ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, httpClient: http.DefaultClient, key: key}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) Fetch(ctx context.Context, ticker string) (provider.Record, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return provider.Record{}, provider.NotFound(Name, ticker)
	}
	res, err := httpx.GetJSON(ctx, c.httpClient, Name, c.baseURL+"/query", url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {ticker},
		"apikey":   {c.key},
	}, nil)
	if err != nil {
		return provider.Record{}, err
	}
	// Throttled and invalid-key responses arrive as 200 with a "Note" or
	// "Information" member instead of a quote.
	if msg := firstString(res, "Note", "Information", "Error Message"); msg != "" {
		return provider.Record{}, provider.Transient(Name, errors.New(msg))
	}
	q := res.Get("Global Quote")
	if !q.IsObject() || len(q.Map()) == 0 {
		return provider.Record{}, provider.NotFound(Name, ticker)
	}
	price, ok := httpx.Number(q.Get("05\\. price"))
	if !ok {
		return provider.Record{}, provider.Malformed(Name, "quote for %s has no price", ticker)
	}

	r := provider.Record{
		CanonicalID:   ticker,
		DisplayName:   ticker,
		Symbol:        ticker,
		Class:         provider.Equity,
		Price:         price,
		Open:          httpx.OptNumber(q.Get("02\\. open")),
		DayHigh:       httpx.OptNumber(q.Get("03\\. high")),
		DayLow:        httpx.OptNumber(q.Get("04\\. low")),
		PreviousClose: httpx.OptNumber(q.Get("08\\. previous close")),
		Change24h:     httpx.OptNumber(q.Get("09\\. change")),
		ChangePct24h:  percent(q.Get("10\\. change percent").String()),
		PriceSource:   "global_quote",
		Source:        Name,
	}
	if v, ok := httpx.Number(q.Get("06\\. volume")); ok {
		r.Volume = v
	}
	if day, err := time.Parse(time.DateOnly, q.Get("07\\. latest trading day").String()); err == nil {
		r.LastUpdated = day
	}
	out, err := r.Normalize()
	if err != nil {
		return provider.Record{}, provider.Malformed(Name, "%v", err)
	}
	return out, nil
}

func firstString(res gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := res.Get(k).String(); s != "" {
			return s
		}
	}
	return ""
}

// percent parses values like "1.2345%".
func percent(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return nil
	}
	return &v
}
