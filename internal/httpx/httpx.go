package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketfeed/internal/provider"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=httpxmock -destination=httpxmock/client.go -source=httpx.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxBody caps how much of an upstream payload we are willing to buffer.
const maxBody = 4 << 20

// Client is a small wrapper around http.Client with sane defaults.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: "marketfeed/1.0"}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req)
}

// GetJSON performs a GET and classifies the outcome into provider error kinds:
// transport failures, timeouts, 429 and other non-2xx are transient, 404 is
// not-found, and an undecodable body is malformed.
func GetJSON(ctx context.Context, hc HTTPClient, source, rawURL string, query url.Values, header http.Header) (gjson.Result, error) {
	if len(query) > 0 {
		rawURL = rawURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return gjson.Result{}, &provider.SourceError{Source: source, Kind: provider.KindMalformed, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return gjson.Result{}, provider.Transient(source, fmt.Errorf("performing request: %w", err))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return gjson.Result{}, provider.Transient(source, fmt.Errorf("reading body: %w", err))
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
	case res.StatusCode == http.StatusNotFound:
		return gjson.Result{}, &provider.SourceError{Source: source, Kind: provider.KindNotFound, Status: res.StatusCode, Err: errors.New(snippet(body))}
	case res.StatusCode == http.StatusTooManyRequests:
		return gjson.Result{}, &provider.SourceError{Source: source, Kind: provider.KindTransient, Status: res.StatusCode, Err: errors.New("rate limited")}
	default:
		return gjson.Result{}, &provider.SourceError{Source: source, Kind: provider.KindTransient, Status: res.StatusCode, Err: errors.New(snippet(body))}
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, provider.Malformed(source, "invalid JSON body: %s", snippet(body))
	}
	return gjson.ParseBytes(body), nil
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Number reads a JSON value that upstreams encode either as a number or as a
// numeric string. ok is false for null, missing, or unparsable values.
func Number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		if r.Str == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// OptNumber is Number returning a pointer suitable for optional Record fields.
func OptNumber(r gjson.Result) *float64 {
	if v, ok := Number(r); ok {
		return &v
	}
	return nil
}
