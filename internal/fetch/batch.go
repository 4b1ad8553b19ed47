package fetch

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"marketfeed/internal/provider"
)

// Result is one item of a batch. Exactly one of Record and Err is set.
type Result struct {
	Record   *provider.Record
	Resolved *provider.ResolvedQuery
	Err      error
}

// FetchBatch fetches every id with at most BatchConcurrency in flight. A
// failed item carries its error; it never fails the batch. With class
// Unknown each id goes through the resolver first.
func (s *Service) FetchBatch(ctx context.Context, ids []string, class provider.AssetClass) map[string]Result {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}

	slots := make([]Result, len(uniq))
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, id := range uniq {
		g.Go(func() error {
			slots[i] = s.fetchOne(ctx, id, class)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Result, len(uniq))
	for i, id := range uniq {
		out[id] = slots[i]
	}
	return out
}

func (s *Service) fetchOne(ctx context.Context, id string, class provider.AssetClass) Result {
	var (
		rec provider.Record
		err error
	)
	switch class {
	case provider.Crypto:
		rec, err = s.FetchCrypto(ctx, id)
	case provider.Equity:
		rec, err = s.FetchEquity(ctx, id)
	default:
		rq, rerr := s.Resolve(ctx, id)
		if rerr != nil {
			return Result{Err: rerr}
		}
		return Result{Record: &rq.Record, Resolved: &rq}
	}
	if err != nil {
		return Result{Err: err}
	}
	return Result{Record: &rec}
}
