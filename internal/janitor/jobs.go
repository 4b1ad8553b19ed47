package janitor

import (
	"context"

	"marketfeed/internal/cache"
	"marketfeed/internal/symbols"
)

// Sweep drops expired cache entries.
func Sweep(store *cache.Store) Job {
	return func(context.Context) error {
		store.Sweep()
		return nil
	}
}

// Refresh merges the provider's market listing into the symbol tables.
func Refresh(r *symbols.Refresher) Job {
	return r.Refresh
}
