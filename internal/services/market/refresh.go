package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/pricecache/internal/models"
)

// RefreshPlan parameterizes a batch refresh over the whole catalog.
type RefreshPlan struct {
	Job      string
	Window   models.RefreshWindow
	Write    models.WritePolicy
	Interval string
}

// IncrementalPlan tops up a trailing window and merges it into history.
func (s *Service) IncrementalPlan() RefreshPlan {
	return RefreshPlan{
		Job:      models.JobIncremental,
		Window:   models.WindowRecent,
		Write:    models.WriteMerge,
		Interval: s.policy.IncrementalInterval,
	}
}

// FullPlan refetches every asset from inception and replaces its entry.
func (s *Service) FullPlan() RefreshPlan {
	return RefreshPlan{
		Job:      models.JobFull,
		Window:   models.WindowFull,
		Write:    models.WriteReplace,
		Interval: s.policy.FullInterval,
	}
}

// RefreshIncremental runs the incremental top-up over the catalog.
func (s *Service) RefreshIncremental(ctx context.Context) (*models.RefreshReport, error) {
	return s.Refresh(ctx, s.IncrementalPlan())
}

// RefreshFull rebuilds every catalog entry from inception.
func (s *Service) RefreshFull(ctx context.Context) (*models.RefreshReport, error) {
	return s.Refresh(ctx, s.FullPlan())
}

type symbolOutcome struct {
	symbol   string
	empty    bool
	err      error
	attempts int
}

// Refresh fetches every catalog asset over a bounded worker pool and writes the
// results with the plan's write policy. One symbol failing never aborts the batch.
// The store is persisted once at the end. Failed symbols, skipped symbols and a
// persist failure mark the report partial rather than failing the run.
func (s *Service) Refresh(ctx context.Context, plan RefreshPlan) (*models.RefreshReport, error) {
	switch plan.Window {
	case models.WindowRecent, models.WindowFull:
	default:
		return nil, fmt.Errorf("unknown refresh window %q", plan.Window)
	}
	switch plan.Write {
	case models.WriteMerge, models.WriteReplace:
	default:
		return nil, fmt.Errorf("unknown write policy %q", plan.Write)
	}
	if plan.Interval == "" {
		plan.Interval = s.policy.DefaultInterval
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh %s not started: %w", plan.Job, err)
	}

	started := s.now()
	report := &models.RefreshReport{
		Job:       plan.Job,
		RunID:     uuid.New().String(),
		StartedAt: started,
		Refreshed: []string{},
		Empty:     []string{},
		Failed:    []models.SymbolFailure{},
	}

	assets := s.catalog.All()
	report.Total = len(assets)
	today := s.today()

	s.logger.Info().
		Str("job", plan.Job).
		Str("run_id", report.RunID).
		Str("window", string(plan.Window)).
		Str("write", string(plan.Write)).
		Str("interval", plan.Interval).
		Int("assets", len(assets)).
		Msg("Refresh started")

	outcomes := make(chan symbolOutcome, len(assets))
	sem := make(chan struct{}, s.policy.Concurrency)
	var wg sync.WaitGroup

	dispatched := 0
dispatch:
	for _, asset := range assets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		if ctx.Err() != nil {
			<-sem
			break
		}
		dispatched++
		wg.Add(1)
		go func(asset models.Asset) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes <- s.refreshAsset(ctx, plan, asset, today)
		}(asset)
	}

	wg.Wait()
	close(outcomes)

	seen := make(map[string]bool, dispatched)
	for o := range outcomes {
		seen[o.symbol] = true
		switch {
		case o.err != nil:
			report.Failed = append(report.Failed, models.SymbolFailure{
				Symbol:   o.symbol,
				Error:    o.err.Error(),
				Attempts: o.attempts,
			})
		case o.empty:
			report.Empty = append(report.Empty, o.symbol)
		default:
			report.Refreshed = append(report.Refreshed, o.symbol)
		}
	}
	for _, asset := range assets {
		if !seen[asset.Symbol] {
			report.Skipped = append(report.Skipped, asset.Symbol)
		}
	}

	// Persist even when cancelled so completed symbols are not lost.
	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	if err := s.store.Persist(persistCtx); err != nil {
		report.PersistError = err.Error()
	}
	report.Partial = report.PersistError != "" || len(report.Skipped) > 0 || len(report.Failed) > 0

	report.CompletedAt = s.now()
	report.DurationMS = report.CompletedAt.Sub(started).Milliseconds()

	event := s.logger.Info()
	if report.Partial {
		event = s.logger.Warn()
	}
	event.
		Str("job", plan.Job).
		Str("run_id", report.RunID).
		Int("refreshed", len(report.Refreshed)).
		Int("empty", len(report.Empty)).
		Int("failed", len(report.Failed)).
		Int("skipped", len(report.Skipped)).
		Str("persist_error", report.PersistError).
		Int64("duration_ms", report.DurationMS).
		Msg("Refresh complete")

	return report, nil
}

// refreshAsset fetches one asset with retry and writes the result.
func (s *Service) refreshAsset(ctx context.Context, plan RefreshPlan, asset models.Asset, today models.Date) symbolOutcome {
	out := symbolOutcome{symbol: asset.Symbol}

	start := asset.Inception
	if plan.Window == models.WindowRecent {
		recent := models.DateOf(today.Add(-s.policy.IncrementalWindow))
		if recent.After(start) {
			start = recent
		}
	}

	points, attempts, err := s.fetchWithRetry(ctx, asset.Symbol, start, today, plan.Interval)
	out.attempts = attempts
	if err != nil {
		s.logger.Warn().Str("job", plan.Job).Str("symbol", asset.Symbol).Int("attempts", attempts).Err(err).Msg("Refresh fetch failed, skipping symbol")
		out.err = err
		return out
	}
	if len(points) == 0 {
		s.logger.Warn().Str("job", plan.Job).Str("symbol", asset.Symbol).Msg("Provider returned no data, keeping existing entry")
		out.empty = true
		return out
	}

	_, err = s.store.Update(asset.Symbol, func(existing *models.SeriesEntry) (*models.SeriesEntry, error) {
		next := s.newEntry(asset.Symbol, points)
		if plan.Write == models.WriteMerge && existing != nil {
			next.Series = models.MergeSeries(existing.Series, points)
		}
		return next, nil
	})
	if err != nil {
		out.err = err
		return out
	}

	s.logger.Debug().Str("job", plan.Job).Str("symbol", asset.Symbol).Int("points", len(points)).Msg("Symbol refreshed")
	return out
}

// fetchWithRetry retries retryable provider failures with exponential backoff.
func (s *Service) fetchWithRetry(ctx context.Context, symbol string, start, end models.Date, interval string) ([]models.PricePoint, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		points, err := s.fetchOnce(ctx, symbol, start, end, interval)
		if err == nil {
			return points, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) || attempt == s.policy.MaxAttempts {
			return nil, attempt, lastErr
		}

		delay := backoffDelay(s.policy.Backoff, s.policy.MaxBackoff, attempt-1)
		s.logger.Debug().Str("symbol", symbol).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("Retrying fetch")
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, attempt, errors.Join(lastErr, err)
		}
	}
	return nil, s.policy.MaxAttempts, lastErr
}

// isRetryable reports whether the client marked err as transient.
func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// backoffDelay returns base * 2^retry, capped at ceiling.
func backoffDelay(base, ceiling time.Duration, retry int) time.Duration {
	if retry < 0 {
		return base
	}
	if retry > 30 {
		return ceiling
	}
	d := base * time.Duration(1<<retry)
	if d > ceiling || d < 0 {
		return ceiling
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
