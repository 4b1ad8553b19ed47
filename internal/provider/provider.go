package provider

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// AssetClass tells crypto and equity instruments apart.
type AssetClass string

const (
	Crypto  AssetClass = "crypto"
	Equity  AssetClass = "equity"
	Unknown AssetClass = "unknown"
)

// ParseAssetClass accepts the spellings callers commonly use ("stock" for equity).
func ParseAssetClass(s string) AssetClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crypto", "coin", "cryptocurrency":
		return Crypto
	case "equity", "stock", "stocks", "ticker":
		return Equity
	default:
		return Unknown
	}
}

// Grade summarizes how closely independent sources agree on a price.
type Grade string

const (
	GradeHigh         Grade = "high"
	GradeMedium       Grade = "medium"
	GradeLow          Grade = "low"
	GradeSingleSource Grade = "single_source"
)

// Sample is one source's opinion of the current price.
type Sample struct {
	Source string  `json:"source"`
	Price  float64 `json:"price"`
}

// Verification is advisory metadata describing cross-source agreement.
type Verification struct {
	SourcesCompared int      `json:"sources_compared"`
	MaxPrice        float64  `json:"max_price"`
	MinPrice        float64  `json:"min_price"`
	AveragePrice    float64  `json:"average_price"`
	DiscrepancyPct  float64  `json:"discrepancy_pct"`
	Grade           Grade    `json:"consistency_grade"`
	Samples         []Sample `json:"samples,omitempty"`
}

// Record is the normalized shape every adapter produces.
// Optional upstream fields are pointers; nil means the provider did not report it.
type Record struct {
	CanonicalID  string     `json:"canonical_id"`
	DisplayName  string     `json:"display_name"`
	Symbol       string     `json:"symbol"`
	Class        AssetClass `json:"asset_class"`
	Price        float64    `json:"current_price"`
	DayHigh      *float64   `json:"day_high,omitempty"`
	DayLow       *float64   `json:"day_low,omitempty"`
	Volume       float64    `json:"volume"`
	MarketCap    *float64   `json:"market_cap,omitempty"`
	ChangePct24h *float64   `json:"price_change_pct_24h,omitempty"`
	Change24h    *float64   `json:"price_change_24h,omitempty"`

	PreviousClose *float64 `json:"previous_close,omitempty"`
	Open          *float64 `json:"open,omitempty"`
	Bid           *float64 `json:"bid,omitempty"`
	Ask           *float64 `json:"ask,omitempty"`
	PERatio       *float64 `json:"pe_ratio,omitempty"`
	DividendYield *float64 `json:"dividend_yield,omitempty"`

	// PriceSource names the discovery step that produced Price (equity ladder).
	PriceSource  string        `json:"price_source,omitempty"`
	Source       string        `json:"source_name"`
	FetchedAt    time.Time     `json:"fetched_at"`
	LastUpdated  time.Time     `json:"last_updated,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
}

// Normalize applies defaults and validates invariants. Inverted high/low pairs are swapped.
func (r Record) Normalize() (Record, error) {
	if math.IsNaN(r.Price) || math.IsInf(r.Price, 0) || r.Price < 0 {
		return r, fmt.Errorf("invalid price %v", r.Price)
	}
	if r.CanonicalID == "" {
		return r, fmt.Errorf("missing canonical id")
	}
	if r.DisplayName == "" {
		r.DisplayName = r.CanonicalID
	}
	if r.Symbol == "" {
		r.Symbol = strings.ToUpper(r.CanonicalID)
	}
	if r.Class == "" {
		r.Class = Unknown
	}
	r.DayHigh = finite(r.DayHigh)
	r.DayLow = finite(r.DayLow)
	r.MarketCap = finite(r.MarketCap)
	r.ChangePct24h = finite(r.ChangePct24h)
	r.Change24h = finite(r.Change24h)
	if r.DayHigh != nil && r.DayLow != nil && *r.DayHigh < *r.DayLow {
		r.DayHigh, r.DayLow = r.DayLow, r.DayHigh
	}
	if math.IsNaN(r.Volume) || math.IsInf(r.Volume, 0) || r.Volume < 0 {
		r.Volume = 0
	}
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now().UTC()
	}
	return r, nil
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// Float returns a pointer to v, for populating optional Record fields.
func Float(v float64) *float64 { return &v }

// DetectionMethod records which resolver step classified a query.
type DetectionMethod string

const (
	DetectedCryptoSymbol DetectionMethod = "crypto_symbol"
	DetectedCryptoName   DetectionMethod = "crypto_name"
	DetectedCryptoID     DetectionMethod = "crypto_id"
	DetectedStockTicker  DetectionMethod = "stock_ticker"
	DetectedSearchMatch  DetectionMethod = "search_api_match"
)

// ResolvedQuery is the resolver's answer for a free-form query.
type ResolvedQuery struct {
	Query       string          `json:"raw_query"`
	Class       AssetClass      `json:"asset_class"`
	CanonicalID string          `json:"canonical_id"`
	Confidence  float64         `json:"confidence"`
	Method      DetectionMethod `json:"detection_method"`
	MatchedName string          `json:"matched_name,omitempty"`
	Record      Record          `json:"record"`
}

// SearchMatch is one hit from a provider's fuzzy search endpoint.
type SearchMatch struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Listing is a provider's view of a listed coin, used to refresh symbol tables.
type Listing struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	MarketCap float64 `json:"market_cap"`
}

// Source fetches one asset from one upstream provider.
//
//go:generate mockgen -package=providermock -destination=providermock/source.go -source=provider.go
type Source interface {
	Name() string
	Fetch(ctx context.Context, id string) (Record, error)
}

// Searcher performs a fuzzy lookup against a provider's catalogue.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchMatch, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, id string) (Record, error)
}

func (f SourceFunc) Name() string { return f.SourceName }

func (f SourceFunc) Fetch(ctx context.Context, id string) (Record, error) {
	if f.Fn == nil {
		return Record{}, NotFound(f.SourceName, id)
	}
	return f.Fn(ctx, id)
}
