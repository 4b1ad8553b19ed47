// Package resolve decides whether a free-form query names a coin or a stock
// and which identifier to fetch it under.
//
// Crypto steps run before the equity guess: the crypto tables are curated and
// precise, while nearly any short alphabetic string is a plausible ticker.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/cache"
	"marketfeed/internal/logging"
	"marketfeed/internal/metrics"
	"marketfeed/internal/provider"
)

// Confidence attached to each detection method.
const (
	ConfidenceSymbol = 0.95
	ConfidenceName   = 0.90
	ConfidenceID     = 0.80
	ConfidenceTicker = 0.85
	ConfidenceSearch = 0.70
)

type CryptoFetcher interface {
	FetchCrypto(ctx context.Context, id string) (provider.Record, error)
}

type EquityFetcher interface {
	FetchEquity(ctx context.Context, ticker string) (provider.Record, error)
}

// Tables are the curated crypto lookups.
type Tables interface {
	LookupSymbol(q string) (string, bool)
	LookupName(q string) (string, bool)
}

type Resolver struct {
	crypto CryptoFetcher
	equity EquityFetcher
	search provider.Searcher
	tables Tables
	store  *cache.Store
	log    *logrus.Entry
}

// New builds a Resolver. search may be nil, which skips the fuzzy step.
func New(crypto CryptoFetcher, equity EquityFetcher, search provider.Searcher, tables Tables, store *cache.Store, log logrus.FieldLogger) *Resolver {
	return &Resolver{
		crypto: crypto,
		equity: equity,
		search: search,
		tables: tables,
		store:  store,
		log:    logging.Component(log, "resolve"),
	}
}

// Resolve walks the detection ladder. Both outcomes are cached under the
// search category; a failure is an *provider.UnresolvedError.
func (r *Resolver) Resolve(ctx context.Context, query string) (provider.ResolvedQuery, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return provider.ResolvedQuery{}, &provider.UnresolvedError{Query: q, Class: provider.Unknown, Suggestions: suggestions(q, false, "")}
	}

	key := cache.SearchKey(strings.ToLower(q))
	if v, ok := r.store.Get(key); ok {
		switch v := v.(type) {
		case provider.ResolvedQuery:
			return v, nil
		case *provider.UnresolvedError:
			return provider.ResolvedQuery{}, v
		}
	}

	rq, err := r.resolve(ctx, q)
	if err != nil {
		// A cancelled caller says nothing about the query.
		if ctx.Err() == nil {
			r.store.Put(key, err, cache.CategorySearch)
		}
		metrics.Resolution("unresolved")
		r.log.WithField("query", q).WithError(err).Info("query unresolved")
		return provider.ResolvedQuery{}, err
	}
	r.store.Put(key, rq, cache.CategorySearch)
	metrics.Resolution(string(rq.Method))
	return rq, nil
}

func (r *Resolver) resolve(ctx context.Context, q string) (provider.ResolvedQuery, error) {
	var attempts []provider.Attempt
	tried := map[string]bool{}

	tryCrypto := func(id string, method provider.DetectionMethod, confidence float64) (provider.ResolvedQuery, bool) {
		if tried[id] {
			return provider.ResolvedQuery{}, false
		}
		tried[id] = true
		rec, err := r.crypto.FetchCrypto(ctx, id)
		if err != nil {
			attempts = absorb(attempts, string(method), err)
			return provider.ResolvedQuery{}, false
		}
		if rec.CanonicalID != "" {
			id = rec.CanonicalID
		}
		return provider.ResolvedQuery{Query: q, Class: provider.Crypto, CanonicalID: id, Confidence: confidence, Method: method, Record: rec}, true
	}

	symbolID, isSymbol := r.tables.LookupSymbol(q)
	if isSymbol {
		if rq, ok := tryCrypto(symbolID, provider.DetectedCryptoSymbol, ConfidenceSymbol); ok {
			return rq, nil
		}
	}

	nameID, isName := r.tables.LookupName(q)
	if isName {
		if rq, ok := tryCrypto(nameID, provider.DetectedCryptoName, ConfidenceName); ok {
			return rq, nil
		}
	}

	if !strings.ContainsFunc(q, unicode.IsSpace) {
		if rq, ok := tryCrypto(strings.ToLower(q), provider.DetectedCryptoID, ConfidenceID); ok {
			return rq, nil
		}
	}

	if looksLikeTicker(q) && !isSymbol && !isName {
		ticker := strings.ToUpper(q)
		rec, err := r.equity.FetchEquity(ctx, ticker)
		if err == nil {
			return provider.ResolvedQuery{Query: q, Class: provider.Equity, CanonicalID: ticker, Confidence: ConfidenceTicker, Method: provider.DetectedStockTicker, Record: rec}, nil
		}
		attempts = absorb(attempts, string(provider.DetectedStockTicker), err)
	}

	if r.search != nil && ctx.Err() == nil {
		matches, err := r.search.Search(ctx, q)
		switch {
		case err != nil:
			attempts = absorb(attempts, string(provider.DetectedSearchMatch), err)
		case len(matches) > 0:
			m := matches[0]
			if rq, ok := tryCrypto(m.ID, provider.DetectedSearchMatch, ConfidenceSearch); ok {
				rq.MatchedName = m.Name
				return rq, nil
			}
		}
	}

	hint := symbolID
	if hint == "" {
		hint = nameID
	}
	return provider.ResolvedQuery{}, &provider.UnresolvedError{
		Query:       q,
		Class:       provider.Unknown,
		Attempts:    attempts,
		Suggestions: suggestions(q, isSymbol || isName, hint),
	}
}

// absorb flattens an orchestrator failure into the attempt list.
func absorb(attempts []provider.Attempt, step string, err error) []provider.Attempt {
	var ue *provider.UnresolvedError
	if errors.As(err, &ue) && len(ue.Attempts) > 0 {
		return append(attempts, ue.Attempts...)
	}
	return append(attempts, provider.NewAttempt(step, err))
}

func looksLikeTicker(q string) bool {
	if len(q) == 0 || len(q) > 5 {
		return false
	}
	for _, c := range q {
		if !unicode.IsLetter(c) || c > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func suggestions(q string, knownCrypto bool, id string) []string {
	var out []string
	switch {
	case knownCrypto:
		out = append(out, fmt.Sprintf("'%s' is a cryptocurrency. Try searching for '%s'", q, id))
	case looksLikeTicker(q):
		u := strings.ToUpper(q)
		out = append(out,
			fmt.Sprintf("'%s' could be a stock ticker - make sure it's valid (e.g., AAPL, TSLA)", u),
			fmt.Sprintf("'%s' could also be a crypto symbol - try full name (e.g., bitcoin, ethereum)", u),
		)
	default:
		out = append(out, fmt.Sprintf("'%s' might be misspelled or not available", q))
	}
	return append(out,
		"For cryptocurrencies: Use full names like 'bitcoin', 'ethereum', 'solana'",
		"For stocks: Use ticker symbols like 'AAPL', 'TSLA', 'GOOGL'",
		"Common crypto symbols: 'BTC', 'ETH', 'SOL', 'DOGE', 'SHIB'",
	)
}
