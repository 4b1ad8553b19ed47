package symbols

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/logging"
	"marketfeed/internal/provider"
)

// ListingSource lists the top coins by market capitalisation.
type ListingSource interface {
	TopMarkets(ctx context.Context, n int) ([]provider.Listing, error)
}

// Refresher pulls the market listing into a Registry.
type Refresher struct {
	Registry *Registry
	Source   ListingSource
	Limit    int
	Log      logrus.FieldLogger
}

// Refresh fetches the listing once and merges it.
func (f *Refresher) Refresh(ctx context.Context) error {
	limit := f.Limit
	if limit <= 0 {
		limit = 250
	}
	listings, err := f.Source.TopMarkets(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing top markets: %w", err)
	}
	changed := f.Registry.Merge(listings)
	syms, names := f.Registry.Len()
	logging.Component(f.Log, "symbols").WithFields(logrus.Fields{
		"listed":  len(listings),
		"changed": changed,
		"symbols": syms,
		"names":   names,
	}).Info("symbol tables refreshed")
	return nil
}
