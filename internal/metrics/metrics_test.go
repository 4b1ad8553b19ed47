package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                  "/",
		"/":                 "/",
		"/healthz":          "/healthz",
		"/api/crypto/btc":   "/api/crypto",
		"/api/resolve":      "/api/resolve",
		"/api/verify/ETH/x": "/api/verify",
	}
	for in, want := range cases {
		require.Equalf(t, want, canonicalPath(in), "path %q", in)
	}
}

func TestInstrumentHandler_CountsRequests(t *testing.T) {
	// Arrange
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	// Act
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/equity/AAPL", nil))

	// Assert
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `marketfeed_http_requests_total{method="GET",path="/api/equity",status="418"}`)
}

func TestHandler_ExposesDomainMetrics(t *testing.T) {
	SourceFetch("coingecko", "ok", 20*time.Millisecond)
	CacheLookup("hit")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	require.True(t, strings.Contains(body, "marketfeed_source_fetches_total"))
	require.True(t, strings.Contains(body, "marketfeed_cache_lookups_total"))
}
