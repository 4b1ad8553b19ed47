package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the marketfeed Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketfeed",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketfeed",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit, miss, expired).",
		},
		[]string{"result"},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed from the cache by reason.",
		},
		[]string{"reason"},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketfeed",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held by the cache.",
		},
	)

	sourceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "source",
			Name:      "fetches_total",
			Help:      "Adapter fetches by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	sourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketfeed",
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of adapter fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"source"},
	)

	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "verify",
			Name:      "grades_total",
			Help:      "Consistency grades assigned.",
		},
		[]string{"grade"},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "resolve",
			Name:      "queries_total",
			Help:      "Resolver outcomes by detection method.",
		},
		[]string{"method"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "janitor",
			Name:      "job_runs_total",
			Help:      "Background job runs.",
		},
		[]string{"job", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		cacheLookups,
		cacheEvictions,
		cacheEntries,
		sourceFetches,
		sourceDuration,
		verifications,
		resolutions,
		jobRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// CacheLookup records a cache lookup result: "hit", "miss" or "expired".
func CacheLookup(result string) { cacheLookups.WithLabelValues(result).Inc() }

// CacheEvicted records n entries removed for reason.
func CacheEvicted(reason string, n int) {
	if n > 0 {
		cacheEvictions.WithLabelValues(reason).Add(float64(n))
	}
}

func CacheSize(n int) { cacheEntries.Set(float64(n)) }

// SourceFetch records one adapter call.
func SourceFetch(source, outcome string, d time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if d <= 0 {
		d = time.Millisecond
	}
	sourceFetches.WithLabelValues(source, outcome).Inc()
	sourceDuration.WithLabelValues(source).Observe(d.Seconds())
}

func Verification(grade string) { verifications.WithLabelValues(grade).Inc() }

func Resolution(method string) { resolutions.WithLabelValues(method).Inc() }

// JobRun records a janitor job dispatch.
func JobRun(job string, success bool) {
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath keeps label cardinality bounded: /api/crypto/bitcoin → /api/crypto.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" || len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/api/" + parts[1]
}
