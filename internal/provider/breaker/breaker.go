// Package breaker isolates a failing upstream. After enough consecutive
// failures the breaker opens and calls fail fast, without I/O, until a
// cooldown passes and a single trial call is let through.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/logging"
	"marketfeed/internal/provider"
)

// ErrOpen is wrapped into the transient error returned while the breaker is open.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
	// Cooldown is how long an open breaker rejects calls.
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 1, Cooldown: 30 * time.Second}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config
	log  *logrus.Entry
	now  func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time

	// trial is set while the one half-open call is in flight.
	trial bool
}

func New(name string, cfg Config, log logrus.FieldLogger) *Breaker {
	d := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = d.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	return &Breaker{
		name: name,
		cfg:  cfg,
		log:  logging.Component(log, "breaker").WithField("source", name),
		now:  time.Now,
	}
}

// Allow reports whether a call may proceed, moving an expired open breaker to
// half-open. A half-open breaker admits one call at a time; its outcome must be
// reported with RecordSuccess, RecordFailure or Release.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.successCount = 0
		b.trial = true
		b.log.Info("circuit half-open")
		return true
	case StateHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

// Release ends a half-open trial without a verdict on the upstream.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.trial = false
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			b.log.Info("circuit closed")
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.trial = false
	b.openedAt = b.now()
	b.successCount = 0
	b.log.WithField("failures", b.failureCount).Warn("circuit open")
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Source guards a provider.Source with a Breaker. Only transient and
// malformed failures count against the upstream; not-found and unmapped
// answers are the upstream working as intended. Calls refused by a local rate
// limiter never reached the upstream and are not counted either way.
type Source struct {
	P       provider.Source
	Breaker *Breaker
}

func Wrap(src provider.Source, cfg Config, log logrus.FieldLogger) *Source {
	return &Source{P: src, Breaker: New(src.Name(), cfg, log)}
}

func (s *Source) Name() string { return s.P.Name() }

func (s *Source) Fetch(ctx context.Context, id string) (provider.Record, error) {
	if !s.Breaker.Allow() {
		return provider.Record{}, provider.Transient(s.P.Name(), ErrOpen)
	}
	rec, err := s.P.Fetch(ctx, id)
	switch {
	case err == nil:
		s.Breaker.RecordSuccess()
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, provider.ErrThrottled):
		// The caller gave up or the call never left the process.
		s.Breaker.Release()
	case countsAsFailure(err):
		s.Breaker.RecordFailure()
	default:
		s.Breaker.RecordSuccess()
	}
	return rec, err
}

func countsAsFailure(err error) bool {
	var tm *provider.TypeMismatchError
	if errors.As(err, &tm) {
		return false
	}
	switch provider.KindOf(err) {
	case provider.KindTransient, provider.KindMalformed:
		return true
	default:
		return false
	}
}
