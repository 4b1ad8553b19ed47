// Package cache is the in-memory TTL store shared by the resolver and the
// fetch orchestrator.
package cache

import (
	"sync"
	"time"

	"marketfeed/internal/metrics"
)

// Category selects the lifetime of an entry.
type Category string

const (
	CategoryCrypto Category = "crypto"
	CategoryStock  Category = "stock"
	CategorySearch Category = "search"
)

// TTLs maps categories to lifetimes. Default applies to unrecognized categories.
type TTLs struct {
	Crypto  time.Duration
	Stock   time.Duration
	Search  time.Duration
	Default time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Crypto:  15 * time.Second,
		Stock:   30 * time.Second,
		Search:  300 * time.Second,
		Default: 60 * time.Second,
	}
}

func (t TTLs) For(c Category) time.Duration {
	switch c {
	case CategoryCrypto:
		return t.Crypto
	case CategoryStock:
		return t.Stock
	case CategorySearch:
		return t.Search
	default:
		return t.Default
	}
}

// Keys used by the orchestrator and resolver.
func CryptoKey(id string) string    { return "crypto_" + id }
func StockKey(ticker string) string { return "stock_" + ticker }
func SearchKey(query string) string { return "search_" + query }

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) valid(now time.Time) bool { return now.Sub(e.storedAt) < e.ttl }

// Store is safe for concurrent use. The zero value is not usable; use New.
type Store struct {
	ttls     TTLs
	maxItems int
	now      func() time.Time

	mu    sync.Mutex
	items map[string]entry
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithTTLs overrides the category lifetimes. Non-positive durations keep the default.
func WithTTLs(t TTLs) Option {
	return func(s *Store) {
		if t.Crypto > 0 {
			s.ttls.Crypto = t.Crypto
		}
		if t.Stock > 0 {
			s.ttls.Stock = t.Stock
		}
		if t.Search > 0 {
			s.ttls.Search = t.Search
		}
		if t.Default > 0 {
			s.ttls.Default = t.Default
		}
	}
}

// WithMaxItems caps the number of entries; 0 means unbounded.
func WithMaxItems(n int) Option { return func(s *Store) { s.maxItems = n } }

func New(opts ...Option) *Store {
	s := &Store{ttls: DefaultTTLs(), now: time.Now, items: make(map[string]entry)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TTLs returns the effective lifetimes.
func (s *Store) TTLs() TTLs { return s.ttls }

// Get returns the value stored under key if it has not expired. An expired
// entry found here is deleted.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		metrics.CacheLookup("miss")
		return nil, false
	}
	if !e.valid(s.now()) {
		delete(s.items, key)
		metrics.CacheLookup("expired")
		metrics.CacheEvicted("expired", 1)
		return nil, false
	}
	metrics.CacheLookup("hit")
	return e.value, true
}

// Put stores value under key with the lifetime of category.
func (s *Store) Put(key string, value any, category Category) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = entry{value: value, storedAt: now, ttl: s.ttls.For(category)}
	if s.maxItems > 0 && len(s.items) > s.maxItems {
		s.evictLocked(now)
	}
	metrics.CacheSize(len(s.items))
}

// evictLocked drops expired entries, then the oldest ones, until the cap holds.
func (s *Store) evictLocked(now time.Time) {
	expired := 0
	for k, e := range s.items {
		if !e.valid(now) {
			delete(s.items, k)
			expired++
		}
	}
	metrics.CacheEvicted("expired", expired)

	evicted := 0
	for len(s.items) > s.maxItems {
		var oldestKey string
		var oldest time.Time
		for k, e := range s.items {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
			}
		}
		delete(s.items, oldestKey)
		evicted++
	}
	metrics.CacheEvicted("capacity", evicted)
}

// Sweep removes every expired entry and reports how many were dropped.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.items {
		if !e.valid(now) {
			delete(s.items, k)
			n++
		}
	}
	metrics.CacheEvicted("expired", n)
	metrics.CacheSize(len(s.items))
	return n
}

// Len counts entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Delete removes key unconditionally.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}
