package fetch

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"marketfeed/internal/provider"
)

// Verify polls every source that could price symbol, in parallel and without
// the cache, and grades the spread. Crypto sources are asked for the coin id
// the symbol maps to; equity sources are skipped for known crypto symbols.
// With class Unknown both families are polled.
func (s *Service) Verify(ctx context.Context, symbol string, class provider.AssetClass) (provider.Verification, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return provider.Verification{}, &provider.UnresolvedError{Query: symbol, Class: class}
	}

	type job struct {
		src provider.Source
		id  string
	}
	var jobs []job
	if class != provider.Equity {
		id := s.coinID(symbol)
		for _, src := range s.crypto {
			jobs = append(jobs, job{src, id})
		}
	}
	if class != provider.Crypto && (s.symbols == nil || !s.symbols.IsCuratedSymbol(symbol)) {
		for _, src := range s.equity {
			jobs = append(jobs, job{src, strings.ToUpper(symbol)})
		}
	}

	samples := make([]*provider.Sample, len(jobs))
	var (
		mu       sync.Mutex
		attempts []provider.Attempt
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			rec, err := s.call(ctx, j.src, j.id)
			if err != nil {
				mu.Lock()
				attempts = append(attempts, provider.NewAttempt(j.src.Name(), err))
				mu.Unlock()
				return nil
			}
			samples[i] = &provider.Sample{Source: rec.Source, Price: rec.Price}
			return nil
		})
	}
	_ = g.Wait()

	var got []provider.Sample
	for _, smp := range samples {
		if smp != nil {
			got = append(got, *smp)
		}
	}
	if len(got) == 0 {
		return provider.Verification{}, &provider.UnresolvedError{Query: symbol, Class: class, Attempts: attempts}
	}
	v := s.engine.Compare(got)
	s.logGrade(symbol, v)
	return v, nil
}

func (s *Service) coinID(symbol string) string {
	if s.symbols != nil {
		if id, ok := s.symbols.LookupSymbol(symbol); ok {
			return id
		}
		if id, ok := s.symbols.LookupName(symbol); ok {
			return id
		}
	}
	return strings.ToLower(symbol)
}
