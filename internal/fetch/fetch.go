// Package fetch is the public face of marketfeed: it walks the per-class
// source ladders behind the cache, attaches cross-source verification, and
// fans batches out over a bounded worker pool.
package fetch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"marketfeed/internal/cache"
	"marketfeed/internal/logging"
	"marketfeed/internal/metrics"
	"marketfeed/internal/provider"
	"marketfeed/internal/resolve"
	"marketfeed/internal/verify"
)

type Config struct {
	// AdapterTimeout bounds every single adapter call.
	AdapterTimeout time.Duration
	// Verify compares the primary crypto price with the secondary source and
	// equity prices with the bid/ask midpoint.
	Verify bool
	// BatchConcurrency caps in-flight items in FetchBatch.
	BatchConcurrency int
}

func DefaultConfig() Config {
	return Config{AdapterTimeout: 5 * time.Second, Verify: true, BatchConcurrency: 8}
}

// Symbols is the part of the symbol registry the service needs.
type Symbols interface {
	resolve.Tables
	IsCuratedSymbol(q string) bool
}

// Deps are the collaborators of a Service. Crypto and Equity are in ladder order.
type Deps struct {
	Crypto   []provider.Source
	Equity   []provider.Source
	Searcher provider.Searcher
	Symbols  Symbols
	Store    *cache.Store
	Engine   *verify.Engine
	Log      logrus.FieldLogger
}

type Service struct {
	crypto   []provider.Source
	equity   []provider.Source
	symbols  Symbols
	store    *cache.Store
	engine   *verify.Engine
	resolver *resolve.Resolver
	cfg      Config
	log      *logrus.Entry
	flight   singleflight.Group
}

func New(d Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = def.AdapterTimeout
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if d.Store == nil {
		d.Store = cache.New()
	}
	if d.Engine == nil {
		d.Engine = verify.New(verify.DefaultThresholds())
	}
	s := &Service{
		crypto:  d.Crypto,
		equity:  d.Equity,
		symbols: d.Symbols,
		store:   d.Store,
		engine:  d.Engine,
		cfg:     cfg,
		log:     logging.Component(d.Log, "fetch"),
	}
	s.resolver = resolve.New(s, s, d.Searcher, d.Symbols, d.Store, d.Log)
	return s
}

// Resolve classifies a free-form query and fetches it.
func (s *Service) Resolve(ctx context.Context, query string) (provider.ResolvedQuery, error) {
	return s.resolver.Resolve(ctx, query)
}

type outcome struct {
	rec provider.Record
	err error
}

// FetchCrypto returns the record for a coin id. The primary source is tried
// first; the others only when it fails. With verification on, the secondary is
// queried alongside the primary and the two prices are graded.
func (s *Service) FetchCrypto(ctx context.Context, id string) (provider.Record, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || len(s.crypto) == 0 {
		return provider.Record{}, &provider.UnresolvedError{Query: id, Class: provider.Crypto}
	}
	return s.cached(ctx, cache.CryptoKey(id), cache.CategoryCrypto, func(ctx context.Context) (provider.Record, error) {
		return s.cryptoLadder(ctx, id)
	})
}

func (s *Service) cryptoLadder(ctx context.Context, id string) (provider.Record, error) {
	var speculative chan outcome
	if s.cfg.Verify && len(s.crypto) > 1 {
		speculative = make(chan outcome, 1)
		go func() {
			rec, err := s.call(ctx, s.crypto[1], id)
			speculative <- outcome{rec, err}
		}()
	}

	primary := s.crypto[0]
	rec, err := s.call(ctx, primary, id)
	if err == nil {
		if speculative != nil {
			second := <-speculative
			if second.err == nil {
				v := s.engine.Compare([]provider.Sample{
					{Source: rec.Source, Price: rec.Price},
					{Source: second.rec.Source, Price: second.rec.Price},
				})
				rec.Verification = &v
				s.logGrade(id, v)
			} else {
				rec.Verification = verify.Single(rec.Source, rec.Price)
			}
		}
		return rec, nil
	}

	attempts := []provider.Attempt{provider.NewAttempt(primary.Name(), err)}
	for i, src := range s.crypto[1:] {
		var o outcome
		if i == 0 && speculative != nil {
			o = <-speculative
		} else {
			o.rec, o.err = s.call(ctx, src, id)
		}
		if o.err == nil {
			if s.cfg.Verify {
				o.rec.Verification = verify.Single(o.rec.Source, o.rec.Price)
			}
			return o.rec, nil
		}
		attempts = append(attempts, provider.NewAttempt(src.Name(), o.err))
	}
	return provider.Record{}, s.exhausted(id, provider.Crypto, attempts)
}

// FetchEquity returns the record for a ticker. Known crypto symbols are
// refused with a TypeMismatchError before any source is called.
func (s *Service) FetchEquity(ctx context.Context, ticker string) (provider.Record, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if s.symbols != nil && s.symbols.IsCuratedSymbol(ticker) {
		return provider.Record{}, &provider.TypeMismatchError{Query: ticker, Want: provider.Equity, Got: provider.Crypto}
	}
	if ticker == "" || len(s.equity) == 0 {
		return provider.Record{}, &provider.UnresolvedError{Query: ticker, Class: provider.Equity}
	}
	return s.cached(ctx, cache.StockKey(ticker), cache.CategoryStock, func(ctx context.Context) (provider.Record, error) {
		return s.equityLadder(ctx, ticker)
	})
}

func (s *Service) equityLadder(ctx context.Context, ticker string) (provider.Record, error) {
	var attempts []provider.Attempt
	for _, src := range s.equity {
		rec, err := s.call(ctx, src, ticker)
		if err == nil {
			if s.cfg.Verify {
				rec.Verification = s.crossCheck(rec)
			}
			return rec, nil
		}
		var tm *provider.TypeMismatchError
		if errors.As(err, &tm) {
			return provider.Record{}, err
		}
		attempts = append(attempts, provider.NewAttempt(src.Name(), err))
	}
	return provider.Record{}, s.exhausted(ticker, provider.Equity, attempts)
}

// crossCheck grades an equity price against the bid/ask midpoint unless the
// midpoint already is the price.
func (s *Service) crossCheck(rec provider.Record) *provider.Verification {
	if rec.PriceSource == "bid_ask_mid" || rec.Bid == nil || rec.Ask == nil {
		return verify.Single(rec.Source, rec.Price)
	}
	v := s.engine.Compare([]provider.Sample{
		{Source: rec.Source, Price: rec.Price},
		{Source: "bid_ask_mid", Price: (*rec.Bid + *rec.Ask) / 2},
	})
	s.logGrade(rec.CanonicalID, v)
	return &v
}

// cached serves key from the store or runs fill once for all concurrent
// callers, storing a success under category.
func (s *Service) cached(ctx context.Context, key string, category cache.Category, fill func(context.Context) (provider.Record, error)) (provider.Record, error) {
	if v, ok := s.store.Get(key); ok {
		if rec, ok := v.(provider.Record); ok {
			return rec, nil
		}
	}
	v, err, _ := s.flight.Do(key, func() (any, error) {
		rec, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		s.store.Put(key, rec, category)
		return rec, nil
	})
	if err != nil {
		return provider.Record{}, err
	}
	return v.(provider.Record), nil
}

// call runs one adapter under the per-call timeout.
func (s *Service) call(ctx context.Context, src provider.Source, id string) (provider.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	defer cancel()

	start := time.Now()
	rec, err := src.Fetch(ctx, id)
	took := time.Since(start)

	if err != nil {
		metrics.SourceFetch(src.Name(), string(provider.KindOf(err)), took)
		s.log.WithFields(logrus.Fields{
			"source":  src.Name(),
			"id":      id,
			"kind":    provider.KindOf(err),
			"timeout": provider.IsTimeout(err),
		}).WithError(err).Debug("source failed")
		return provider.Record{}, err
	}
	metrics.SourceFetch(src.Name(), "ok", took)
	return rec, nil
}

func (s *Service) exhausted(query string, class provider.AssetClass, attempts []provider.Attempt) error {
	s.log.WithFields(logrus.Fields{"query": query, "class": class, "attempts": len(attempts)}).Warn("all sources failed")
	return &provider.UnresolvedError{Query: query, Class: class, Attempts: attempts}
}

func (s *Service) logGrade(id string, v provider.Verification) {
	entry := s.log.WithFields(logrus.Fields{"id": id, "grade": v.Grade, "discrepancy_pct": v.DiscrepancyPct})
	if v.Grade == provider.GradeLow {
		entry.Warn("sources disagree")
		return
	}
	entry.Debug("sources compared")
}
