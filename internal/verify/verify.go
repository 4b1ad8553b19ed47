// Package verify grades how closely independent price sources agree.
package verify

import (
	"math"

	"github.com/shopspring/decimal"

	"marketfeed/internal/metrics"
	"marketfeed/internal/provider"
)

// Thresholds are the discrepancy percentages separating grades. A discrepancy
// below HighBelow grades high, below MediumBelow medium, anything else low.
type Thresholds struct {
	HighBelow   float64
	MediumBelow float64
}

func DefaultThresholds() Thresholds { return Thresholds{HighBelow: 1, MediumBelow: 3} }

type Engine struct {
	high   decimal.Decimal
	medium decimal.Decimal
}

// New returns an Engine; zero thresholds fall back to the defaults.
func New(t Thresholds) *Engine {
	d := DefaultThresholds()
	if t.HighBelow <= 0 {
		t.HighBelow = d.HighBelow
	}
	if t.MediumBelow <= 0 {
		t.MediumBelow = d.MediumBelow
	}
	return &Engine{high: decimal.NewFromFloat(t.HighBelow), medium: decimal.NewFromFloat(t.MediumBelow)}
}

var hundred = decimal.NewFromInt(100)

// Compare grades samples. Non-positive or non-finite prices are ignored; with
// fewer than two usable samples the grade is single_source.
func (e *Engine) Compare(samples []provider.Sample) provider.Verification {
	usable := make([]provider.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Price > 0 && !math.IsInf(s.Price, 0) && !math.IsNaN(s.Price) {
			usable = append(usable, s)
		}
	}

	v := provider.Verification{SourcesCompared: len(usable), Samples: usable, Grade: provider.GradeSingleSource}
	if len(usable) == 0 {
		metrics.Verification(string(v.Grade))
		return v
	}

	prices := make([]decimal.Decimal, len(usable))
	for i, s := range usable {
		prices[i] = decimal.NewFromFloat(s.Price)
	}
	lo, hi := decimal.Min(prices[0], prices[1:]...), decimal.Max(prices[0], prices[1:]...)
	avg := decimal.Avg(prices[0], prices[1:]...)
	v.MinPrice = lo.InexactFloat64()
	v.MaxPrice = hi.InexactFloat64()
	v.AveragePrice = avg.Round(8).InexactFloat64()
	if len(usable) == 1 {
		metrics.Verification(string(v.Grade))
		return v
	}

	var pct decimal.Decimal
	if len(usable) == 2 {
		pct = prices[0].Sub(prices[1]).Abs().Div(lo).Mul(hundred)
	} else {
		maxDiff := decimal.Zero
		for _, p := range prices {
			maxDiff = decimal.Max(maxDiff, p.Sub(avg).Abs())
		}
		pct = maxDiff.Div(avg).Mul(hundred)
	}
	v.DiscrepancyPct = pct.Round(4).InexactFloat64()
	v.Grade = e.grade(pct)
	metrics.Verification(string(v.Grade))
	return v
}

func (e *Engine) grade(pct decimal.Decimal) provider.Grade {
	switch {
	case pct.LessThan(e.high):
		return provider.GradeHigh
	case pct.LessThan(e.medium):
		return provider.GradeMedium
	default:
		return provider.GradeLow
	}
}

// Single marks a record served by one source while verification was requested.
func Single(source string, price float64) *provider.Verification {
	return &provider.Verification{
		SourcesCompared: 1,
		MaxPrice:        price,
		MinPrice:        price,
		AveragePrice:    price,
		Grade:           provider.GradeSingleSource,
		Samples:         []provider.Sample{{Source: source, Price: price}},
	}
}
