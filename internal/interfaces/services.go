package interfaces

import (
	"context"

	"github.com/bobmcallan/pricecache/internal/models"
)

// ChartRequest is a read-path query for one symbol.
type ChartRequest struct {
	Symbol   string
	Start    models.Date
	End      models.Date
	Interval string
}

// MarketService serves cached series and runs refreshes.
type MarketService interface {
	// GetChart answers a read from cache, live fetch or stale cache.
	GetChart(ctx context.Context, req ChartRequest) (*models.ChartResponse, error)

	// RefreshSymbol unconditionally refetches one symbol over the default range.
	RefreshSymbol(ctx context.Context, symbol string) (*models.SeriesEntry, error)

	// RenderChart draws a PNG line chart of the given points.
	RenderChart(symbol string, points []models.PricePoint) ([]byte, error)
}

// RefreshRunner executes batch refresh jobs.
type RefreshRunner interface {
	RefreshIncremental(ctx context.Context) (*models.RefreshReport, error)
	RefreshFull(ctx context.Context) (*models.RefreshReport, error)
}

// JobScheduler runs refresh jobs on a schedule and on demand.
type JobScheduler interface {
	Trigger(job string) (string, error)
	Run(ctx context.Context, job string) (*models.RefreshReport, error)
	Status() []models.JobStatus
}
