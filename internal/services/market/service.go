// Package market provides the price cache coordinator
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/models"
)

var (
	// ErrNoDataAvailable is returned when a read cannot be answered from the
	// provider and nothing is cached for the symbol.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrEmptyResult is returned when the provider answered with no points.
	ErrEmptyResult = errors.New("provider returned no data")
)

// RefreshPolicy holds the tunables of the read and batch paths.
type RefreshPolicy struct {
	DefaultStart        models.Date
	DefaultInterval     string
	IncrementalWindow   time.Duration
	IncrementalInterval string
	FullInterval        string
	Concurrency         int
	MaxAttempts         int
	Backoff             time.Duration
	MaxBackoff          time.Duration
	FetchTimeout        time.Duration
}

// DefaultRefreshPolicy returns the policy used when no configuration is given.
func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{
		DefaultStart:        models.NewDate(2015, time.January, 1),
		DefaultInterval:     "1d",
		IncrementalWindow:   365 * 24 * time.Hour,
		IncrementalInterval: "1wk",
		FullInterval:        "1d",
		Concurrency:         2,
		MaxAttempts:         3,
		Backoff:             time.Second,
		MaxBackoff:          30 * time.Second,
		FetchTimeout:        30 * time.Second,
	}
}

// RefreshPolicyFromConfig maps the cache and refresh config sections to a policy.
func RefreshPolicyFromConfig(cfg *common.Config) RefreshPolicy {
	p := DefaultRefreshPolicy()
	if d, err := models.ParseDate(cfg.Cache.DefaultStart); err == nil {
		p.DefaultStart = d
	}
	if cfg.Cache.DefaultInterval != "" {
		p.DefaultInterval = cfg.Cache.DefaultInterval
	}
	p.IncrementalWindow = cfg.Refresh.GetIncrementalWindow()
	if cfg.Refresh.IncrementalInterval != "" {
		p.IncrementalInterval = cfg.Refresh.IncrementalInterval
	}
	if cfg.Refresh.FullInterval != "" {
		p.FullInterval = cfg.Refresh.FullInterval
	}
	if cfg.Refresh.Concurrency > 0 {
		p.Concurrency = cfg.Refresh.Concurrency
	}
	if cfg.Refresh.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Refresh.MaxAttempts
	}
	p.Backoff = cfg.Refresh.GetBackoff()
	p.FetchTimeout = cfg.Refresh.GetFetchTimeout()
	return p
}

// Service implements interfaces.MarketService and interfaces.RefreshRunner.
type Service struct {
	store   interfaces.PriceStore
	client  interfaces.MarketDataClient
	catalog interfaces.AssetCatalog
	logger  *common.Logger
	ttl     time.Duration
	now     func() time.Time
	policy  RefreshPolicy
}

// Option configures the service
type Option func(*Service)

// WithTTL sets the freshness window of cached entries.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRefreshPolicy sets the read and batch tunables.
func WithRefreshPolicy(p RefreshPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// NewService creates a new market service
func NewService(
	store interfaces.PriceStore,
	client interfaces.MarketDataClient,
	catalog interfaces.AssetCatalog,
	logger *common.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:   store,
		client:  client,
		catalog: catalog,
		logger:  logger,
		ttl:     common.FreshnessPriceSeries,
		now:     time.Now,
		policy:  DefaultRefreshPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.Concurrency < 1 {
		s.policy.Concurrency = 1
	}
	if s.policy.MaxAttempts < 1 {
		s.policy.MaxAttempts = 1
	}
	if s.policy.MaxBackoff <= 0 {
		s.policy.MaxBackoff = 30 * time.Second
	}
	return s
}

// IsFresh reports whether entry was updated less than one TTL ago.
func (s *Service) IsFresh(entry *models.SeriesEntry) bool {
	if entry == nil {
		return false
	}
	return common.IsFreshAt(entry.LastUpdated, s.ttl, s.now())
}

func (s *Service) today() models.Date {
	return models.DateOf(s.now())
}

// GetChart answers a read for one symbol: fresh cache, then a live fetch, then
// whatever is cached however old it is.
func (s *Service) GetChart(ctx context.Context, req interfaces.ChartRequest) (*models.ChartResponse, error) {
	symbol := models.CanonicalSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	start, end, interval := req.Start, req.End, req.Interval
	if start.IsZero() {
		start = s.policy.DefaultStart
	}
	if end.IsZero() {
		end = s.today()
	}
	if interval == "" {
		interval = s.policy.DefaultInterval
	}
	if inception, ok := s.catalog.Inception(symbol); ok && start.Before(inception) {
		start = inception
	}

	existing, cached := s.store.Get(symbol)
	if cached && s.IsFresh(existing) {
		s.logger.Debug().Str("symbol", symbol).Msg("Serving fresh cache")
		return chartResponse(models.SourceCache, existing), nil
	}

	points, err := s.fetchOnce(ctx, symbol, start, end, interval)
	if err == nil && len(points) == 0 {
		err = ErrEmptyResult
	}
	if err != nil {
		if cached {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Live fetch failed, serving stale cache")
			return chartResponse(models.SourceStaleCache, existing), nil
		}
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Live fetch failed with nothing cached")
		return nil, fmt.Errorf("%s: %w: %w", symbol, ErrNoDataAvailable, err)
	}

	stored, err := s.store.Update(symbol, func(*models.SeriesEntry) (*models.SeriesEntry, error) {
		return s.newEntry(symbol, points), nil
	})
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", symbol, err)
	}
	if err := s.store.Persist(ctx); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Persist after live fetch failed")
	}

	s.logger.Info().Str("symbol", symbol).Int("points", len(stored.Series)).Msg("Served live data")
	return chartResponse(models.SourceLive, stored), nil
}

// RefreshSymbol refetches the default range for one symbol and replaces its
// entry regardless of freshness.
func (s *Service) RefreshSymbol(ctx context.Context, symbol string) (*models.SeriesEntry, error) {
	symbol = models.CanonicalSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	start := s.policy.DefaultStart
	if inception, ok := s.catalog.Inception(symbol); ok && start.Before(inception) {
		start = inception
	}

	points, err := s.fetchOnce(ctx, symbol, start, s.today(), "1d")
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", symbol, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("refresh %s: %w", symbol, ErrEmptyResult)
	}

	stored, err := s.store.Update(symbol, func(*models.SeriesEntry) (*models.SeriesEntry, error) {
		return s.newEntry(symbol, points), nil
	})
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", symbol, err)
	}
	if err := s.store.Persist(ctx); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Persist after manual refresh failed")
	}

	s.logger.Info().Str("symbol", symbol).Int("points", len(stored.Series)).Msg("Manual refresh complete")
	return stored, nil
}

// fetchOnce runs a single provider call under the per-call timeout.
func (s *Service) fetchOnce(ctx context.Context, symbol string, start, end models.Date, interval string) ([]models.PricePoint, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.policy.FetchTimeout)
	defer cancel()

	points, err := s.client.FetchSeries(fetchCtx, symbol, start, end, interval)
	if err != nil {
		return nil, err
	}
	return models.NormalizeSeries(points), nil
}

// newEntry builds a replacement entry carrying catalog metadata when known.
func (s *Service) newEntry(symbol string, points []models.PricePoint) *models.SeriesEntry {
	e := &models.SeriesEntry{
		Symbol:      symbol,
		LastUpdated: s.now().UTC(),
		Series:      points,
	}
	if asset, ok := s.catalog.Lookup(symbol); ok {
		e.Name = asset.Name
		inc := asset.Inception
		e.Inception = &inc
	}
	return e
}

func chartResponse(source string, e *models.SeriesEntry) *models.ChartResponse {
	data := e.Series
	if data == nil {
		data = []models.PricePoint{}
	}
	return &models.ChartResponse{
		Symbol:      e.Symbol,
		Source:      source,
		LastUpdated: e.LastUpdated,
		Data:        data,
	}
}
