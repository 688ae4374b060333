// Package interfaces defines service contracts for pricecache
package interfaces

import (
	"context"

	"github.com/bobmcallan/pricecache/internal/models"
)

// MarketDataClient fetches historical close series from the upstream provider.
type MarketDataClient interface {
	// FetchSeries returns points for [start, end] at the given interval
	// ("1d", "1wk", "1mo"), ascending by date. An empty slice with a nil
	// error means the provider had nothing for the range.
	FetchSeries(ctx context.Context, symbol string, start, end models.Date, interval string) ([]models.PricePoint, error)
}

// AssetCatalog is the static list of instruments the cache tracks.
type AssetCatalog interface {
	All() []models.Asset
	Lookup(symbol string) (models.Asset, bool)
	Inception(symbol string) (models.Date, bool)
	Symbols() []string
	Len() int
}
