// Package app wires configuration into a running fetch service with its
// housekeeping jobs. Both binaries start from Build.
package app

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/cache"
	"marketfeed/internal/collab"
	"marketfeed/internal/config"
	"marketfeed/internal/fetch"
	"marketfeed/internal/httpx"
	"marketfeed/internal/janitor"
	"marketfeed/internal/logging"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/alphavantage"
	"marketfeed/internal/provider/binance"
	"marketfeed/internal/provider/breaker"
	"marketfeed/internal/provider/coincap"
	"marketfeed/internal/provider/coingecko"
	"marketfeed/internal/provider/ratelimit"
	"marketfeed/internal/provider/yahoo"
	"marketfeed/internal/symbols"
	"marketfeed/internal/verify"
)

type App struct {
	Config   config.Config
	Log      *logrus.Logger
	Service  *fetch.Service
	Store    *cache.Store
	Symbols  *symbols.Registry
	Reporter *collab.Reporter
	Janitor  *janitor.Janitor

	refresher *symbols.Refresher
}

// Option customises the collaborators Build creates.
type Option func(*options)

type options struct {
	hc       httpx.HTTPClient
	news     collab.NewsFetcher
	analyzer collab.Analyzer
}

// WithHTTPClient replaces the shared upstream client.
func WithHTTPClient(hc httpx.HTTPClient) Option { return func(o *options) { o.hc = hc } }

// WithCollaborators plugs news and analysis into reports.
func WithCollaborators(news collab.NewsFetcher, analyzer collab.Analyzer) Option {
	return func(o *options) { o.news, o.analyzer = news, analyzer }
}

func Build(cfg config.Config, log *logrus.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logging.Discard()
	}
	if o.hc == nil {
		o.hc = httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	}

	reg := symbols.Default()
	if cfg.Symbols.File != "" {
		r, err := symbols.Load(cfg.Symbols.File)
		if err != nil {
			return nil, fmt.Errorf("symbols: %w", err)
		}
		reg = r
	}

	store := cache.New(
		cache.WithTTLs(cache.TTLs{
			Crypto:  seconds(cfg.Cache.CryptoTTLSec),
			Stock:   seconds(cfg.Cache.StockTTLSec),
			Search:  seconds(cfg.Cache.SearchTTLSec),
			Default: seconds(cfg.Cache.DefaultTTLSec),
		}),
		cache.WithMaxItems(cfg.Cache.MaxItems),
	)

	src := cfg.Sources
	var gecko *coingecko.Client
	var crypto, equity []provider.Source
	if src.CoinGecko.Enabled {
		gecko = coingecko.New(
			coingecko.WithBaseURL(src.CoinGecko.Endpoint),
			coingecko.WithHTTPClient(o.hc),
			coingecko.WithAPIKey(src.CoinGecko.APIKey),
		)
		crypto = append(crypto, guard(gecko, src.CoinGecko, log))
	}
	if src.CoinCap.Enabled {
		crypto = append(crypto, guard(coincap.New(
			coincap.WithBaseURL(src.CoinCap.Endpoint),
			coincap.WithHTTPClient(o.hc),
			coincap.WithAPIKey(src.CoinCap.APIKey),
		), src.CoinCap, log))
	}
	if src.Binance.Enabled {
		crypto = append(crypto, guard(binance.New(reg,
			binance.WithBaseURL(src.Binance.Endpoint),
			binance.WithHTTPClient(o.hc),
		), src.Binance, log))
	}
	if src.Yahoo.Enabled {
		equity = append(equity, guard(yahoo.New(reg,
			yahoo.WithBaseURL(src.Yahoo.Endpoint),
			yahoo.WithHTTPClient(o.hc),
		), src.Yahoo, log))
	}
	if src.AlphaVantage.Enabled {
		if src.AlphaVantage.APIKey == "" {
			log.Warn("alphavantage enabled without api key; skipping")
		} else {
			equity = append(equity, guard(alphavantage.New(src.AlphaVantage.APIKey,
				alphavantage.WithBaseURL(src.AlphaVantage.Endpoint),
				alphavantage.WithHTTPClient(o.hc),
			), src.AlphaVantage, log))
		}
	}
	if len(crypto) == 0 && len(equity) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}

	deps := fetch.Deps{
		Crypto:  crypto,
		Equity:  equity,
		Symbols: reg,
		Store:   store,
		Engine: verify.New(verify.Thresholds{
			HighBelow:   cfg.Verification.HighBelowPct,
			MediumBelow: cfg.Verification.MediumBelowPct,
		}),
		Log: log,
	}
	if gecko != nil {
		deps.Searcher = gecko
	}
	svc := fetch.New(deps, fetch.Config{
		AdapterTimeout:   time.Duration(cfg.Fetch.AdapterTimeoutMs) * time.Millisecond,
		Verify:           cfg.Fetch.Verify,
		BatchConcurrency: cfg.Fetch.BatchConcurrency,
	})

	a := &App{
		Config:  cfg,
		Log:     log,
		Service: svc,
		Store:   store,
		Symbols: reg,
		Reporter: &collab.Reporter{
			Resolver:  svc,
			News:      o.news,
			Analyzer:  o.analyzer,
			NewsLimit: cfg.Report.NewsLimit,
			Timeout:   seconds(cfg.Report.TimeoutSec),
			Log:       log,
		},
		Janitor: janitor.New(log),
	}
	if gecko != nil {
		a.refresher = &symbols.Refresher{Registry: reg, Source: gecko, Limit: cfg.Symbols.RefreshLimit, Log: log}
	}
	if err := a.schedule(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"crypto_sources": names(crypto),
		"equity_sources": names(equity),
		"verify":         cfg.Fetch.Verify,
	}).Info("service ready")
	return a, nil
}

func (a *App) schedule() error {
	if d := seconds(a.Config.Cache.SweepIntervalSec); d > 0 {
		if err := a.Janitor.AddInterval("cache_sweep", d, janitor.Sweep(a.Store)); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}
	if d := seconds(a.Config.Symbols.RefreshIntervalSec); d > 0 && a.refresher != nil {
		if err := a.Janitor.AddInterval("symbol_refresh", d, janitor.Refresh(a.refresher)); err != nil {
			return fmt.Errorf("schedule refresh: %w", err)
		}
	}
	return nil
}

// Start begins the housekeeping jobs.
func (a *App) Start() { a.Janitor.Start() }

// Close stops the housekeeping jobs and waits for them to return.
func (a *App) Close() { a.Janitor.Stop() }

// guard applies the rate limit and, outside it, the circuit breaker, so an
// open breaker fails fast without spending a token.
func guard(src provider.Source, c config.Source, log logrus.FieldLogger) provider.Source {
	if c.MaxRequestsPerMinute > 0 {
		src = ratelimit.PerMinute(src, c.MaxRequestsPerMinute, c.Burst)
	} else {
		src = ratelimit.MinInterval(src, time.Duration(c.MinRequestIntervalMs)*time.Millisecond)
	}
	if c.BreakerFailures > 0 {
		src = breaker.Wrap(src, breaker.Config{
			FailureThreshold: c.BreakerFailures,
			SuccessThreshold: 1,
			Cooldown:         seconds(c.BreakerCooldownSec),
		}, log)
	}
	return src
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func names(srcs []provider.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.Name()
	}
	return out
}
