package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pricecache/internal/app"
	"github.com/bobmcallan/pricecache/internal/catalog"
	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/models"
	"github.com/bobmcallan/pricecache/internal/services/market"
)

// fakeMarket records read requests and answers with the configured funcs.
type fakeMarket struct {
	mu       sync.Mutex
	requests []interfaces.ChartRequest

	chart   func(req interfaces.ChartRequest) (*models.ChartResponse, error)
	refresh func(symbol string) (*models.SeriesEntry, error)
	render  func(symbol string, points []models.PricePoint) ([]byte, error)
}

func (f *fakeMarket) GetChart(_ context.Context, req interfaces.ChartRequest) (*models.ChartResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.chart(req)
}

func (f *fakeMarket) RefreshSymbol(_ context.Context, symbol string) (*models.SeriesEntry, error) {
	return f.refresh(symbol)
}

func (f *fakeMarket) RenderChart(symbol string, points []models.PricePoint) ([]byte, error) {
	if f.render != nil {
		return f.render(symbol, points)
	}
	return market.RenderPriceChart(symbol, points)
}

func (f *fakeMarket) lastRequest() interfaces.ChartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeJobs is a JobScheduler that counts triggers.
type fakeJobs struct {
	mu       sync.Mutex
	triggers []string
	err      error
	status   []models.JobStatus
}

func (f *fakeJobs) Trigger(job string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.triggers = append(f.triggers, job)
	return "run-" + job, nil
}

func (f *fakeJobs) Run(_ context.Context, job string) (*models.RefreshReport, error) {
	return &models.RefreshReport{Job: job}, nil
}

func (f *fakeJobs) Status() []models.JobStatus {
	return f.status
}

func (f *fakeJobs) triggered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggers...)
}

// rawStore serves ReadRaw only; the handlers touch nothing else on the store.
type rawStore struct {
	interfaces.PriceStore
	data []byte
	err  error
}

func (s *rawStore) ReadRaw(context.Context) ([]byte, error) {
	return s.data, s.err
}

type testDeps struct {
	market *fakeMarket
	jobs   *fakeJobs
	store  *rawStore
	secret string
}

func samplePoints() []models.PricePoint {
	return []models.PricePoint{
		{Date: models.NewDate(2024, time.June, 12), Close: 100},
		{Date: models.NewDate(2024, time.June, 13), Close: 101.5},
		{Date: models.NewDate(2024, time.June, 14), Close: 99.25},
	}
}

func newTestDeps() *testDeps {
	updated := time.Date(2024, time.June, 15, 0, 5, 0, 0, time.UTC)
	return &testDeps{
		market: &fakeMarket{
			chart: func(req interfaces.ChartRequest) (*models.ChartResponse, error) {
				return &models.ChartResponse{
					Symbol:      models.CanonicalSymbol(req.Symbol),
					Source:      models.SourceCache,
					LastUpdated: updated,
					Data:        samplePoints(),
				}, nil
			},
			refresh: func(symbol string) (*models.SeriesEntry, error) {
				return &models.SeriesEntry{Symbol: symbol, LastUpdated: updated, Series: samplePoints()}, nil
			},
		},
		jobs:  &fakeJobs{},
		store: &rawStore{err: interfaces.ErrSnapshotNotFound},
	}
}

// newTestServer builds a Server over fakes.
func newTestServer(t *testing.T, deps *testDeps) *Server {
	t.Helper()
	assets, err := catalog.FromAssets(
		models.Asset{Symbol: "SPY", Name: "SPDR S&P 500 ETF", Inception: models.NewDate(1993, time.January, 29)},
		models.Asset{Symbol: "BTC-USD", Name: "Bitcoin", Inception: models.NewDate(2014, time.September, 17)},
	)
	require.NoError(t, err)

	config := common.NewDefaultConfig()
	config.Admin.Secret = deps.secret

	return NewServer(&app.App{
		Config:        config,
		Logger:        common.NewSilentLogger(),
		Catalog:       assets,
		Store:         deps.store,
		MarketService: deps.market,
		Jobs:          deps.jobs,
		StartupTime:   time.Now(),
	})
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
