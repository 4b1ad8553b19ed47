package collab

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"marketfeed/internal/provider"
)

// NA is rendered for any field the record does not carry.
const NA = "N/A"

// Fields renders a record for display. Every key is always present.
func Fields(rec provider.Record) map[string]string {
	f := map[string]string{
		"symbol":         text(rec.Symbol),
		"name":           text(rec.DisplayName),
		"asset_class":    text(string(rec.Class)),
		"price":          NA,
		"day_high":       money(rec.DayHigh),
		"day_low":        money(rec.DayLow),
		"volume":         NA,
		"market_cap":     money(rec.MarketCap),
		"change_24h":     money(rec.Change24h),
		"change_pct_24h": pct(rec.ChangePct24h),
		"previous_close": money(rec.PreviousClose),
		"open":           money(rec.Open),
		"bid":            money(rec.Bid),
		"ask":            money(rec.Ask),
		"pe_ratio":       plain(rec.PERatio),
		"dividend_yield": plain(rec.DividendYield),
		"source":         text(rec.Source),
		"fetched_at":     NA,
		"grade":          NA,
		"discrepancy":    NA,
	}
	if rec.Price > 0 {
		f["price"] = money(&rec.Price)
	}
	if rec.Volume > 0 {
		f["volume"] = decimal.NewFromFloat(rec.Volume).Round(0).String()
	}
	if !rec.FetchedAt.IsZero() {
		f["fetched_at"] = rec.FetchedAt.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	if v := rec.Verification; v != nil {
		f["grade"] = string(v.Grade)
		if v.SourcesCompared > 1 {
			f["discrepancy"] = decimal.NewFromFloat(v.DiscrepancyPct).StringFixed(2) + "%"
		}
	}
	return f
}

func text(s string) string {
	if strings.TrimSpace(s) == "" {
		return NA
	}
	return s
}

// money keeps two decimals, more for sub-dollar prices.
func money(v *float64) string {
	if v == nil {
		return NA
	}
	d := decimal.NewFromFloat(*v)
	if d.Abs().LessThan(decimal.NewFromInt(1)) && !d.IsZero() {
		return "$" + d.Round(6).String()
	}
	return "$" + d.StringFixed(2)
}

func pct(v *float64) string {
	if v == nil {
		return NA
	}
	return fmt.Sprintf("%+.2f%%", *v)
}

func plain(v *float64) string {
	if v == nil {
		return NA
	}
	return decimal.NewFromFloat(*v).StringFixed(2)
}
