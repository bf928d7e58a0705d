package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/models"
	"github.com/voyagekit/travel-concierge/internal/observability"
)

// ForecastFetcher is implemented by the service layer to fetch a forecast.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type ForecastFetcher interface {
	GetForecast(ctx context.Context, city, date string) (models.Forecast, error)
}

// CacheWarmer warms the cache by prefetching today's forecast for a list of
// popular destinations, so first asks about them skip the upstream round trip.
type CacheWarmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher ForecastFetcher, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches today's forecast for each destination concurrently and
// populates the cache via the fetcher. Returns an aggregated error if any
// destination failed.
func (w *CacheWarmer) Warm(ctx context.Context, destinations []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming forecast cache", zap.Int("destinations", len(destinations)))
	}
	today := time.Now().UTC().Format("2006-01-02")
	var wg sync.WaitGroup
	errCh := make(chan error, len(destinations))
	for _, dest := range destinations {
		dest := dest
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.GetForecast(ctx, dest, today); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", dest, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var failed int
	var firstErr error
	for err := range errCh {
		failed++
		if firstErr == nil {
			firstErr = err
		}
	}
	if w.logger != nil {
		w.logger.Info("forecast cache warmed",
			zap.Int("destinations", len(destinations)),
			zap.Int("failed", failed),
			zap.Duration("duration", time.Since(start)))
	}
	if firstErr != nil {
		return fmt.Errorf("%d of %d destinations failed: %w", failed, len(destinations), firstErr)
	}
	return nil
}

// WarmPeriodic re-warms the cache every interval until ctx is cancelled.
// Individual sweep failures are logged and do not stop the loop.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, destinations []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, destinations); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
