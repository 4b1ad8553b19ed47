// Package ratelimit gates calls to a provider.Source so upstream quotas are
// respected. A caller that cannot get a token before its context expires
// receives a transient error wrapping provider.ErrThrottled and the fallback
// ladder moves on.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"marketfeed/internal/provider"
)

// Source wraps a provider.Source with a token bucket.
type Source struct {
	P       provider.Source
	Limiter *rate.Limiter
}

// PerMinute allows n calls per minute with the given burst. n <= 0 disables
// limiting and returns src unchanged.
func PerMinute(src provider.Source, n, burst int) provider.Source {
	if n <= 0 {
		return src
	}
	if burst <= 0 {
		burst = 1
	}
	return &Source{P: src, Limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), burst)}
}

// MinInterval enforces at least d between consecutive calls.
func MinInterval(src provider.Source, d time.Duration) provider.Source {
	if d <= 0 {
		return src
	}
	return &Source{P: src, Limiter: rate.NewLimiter(rate.Every(d), 1)}
}

func (s *Source) Name() string { return s.P.Name() }

func (s *Source) Fetch(ctx context.Context, id string) (provider.Record, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return provider.Record{}, provider.Transient(s.P.Name(), fmt.Errorf("%w: %w", provider.ErrThrottled, err))
		}
	}
	return s.P.Fetch(ctx, id)
}
