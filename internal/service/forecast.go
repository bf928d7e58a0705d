// Package service holds the data-retrieval layer between the agents and the
// upstream clients. Services own caching policy; clients own wire formats.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/cache"
	"github.com/voyagekit/travel-concierge/internal/client"
	"github.com/voyagekit/travel-concierge/internal/models"
	"github.com/voyagekit/travel-concierge/internal/observability"
)

// ForecastService retrieves daily forecasts using cache-aside with upstream
// API fallback. A geocode round-trip plus a forecast round-trip sit behind
// every miss, so results are cached aggressively and stale entries are served
// when the upstream is down.
type ForecastService struct {
	client        client.WeatherClient
	cache         cache.Cache
	ttl           time.Duration
	staleCacheTTL time.Duration // Maximum age for stale cache fallback (0 = disabled)
	coalescer     *requestCoalescer // Optional request coalescing (nil if disabled)
}

// NewForecastService creates a ForecastService with the provided dependencies.
// ttl is the cache expiration for forecasts; staleCacheTTL is the maximum age
// for stale fallback (0 = disabled). Coalescing is disabled when timeout is 0.
func NewForecastService(client client.WeatherClient, cache cache.Cache, ttl, staleCacheTTL time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *ForecastService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &ForecastService{
		client:        client,
		cache:         cache,
		ttl:           ttl,
		staleCacheTTL: staleCacheTTL,
		coalescer:     coalescer,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetForecast retrieves the forecast for city on the given date (YYYY-MM-DD).
// Checks cache first, falls back to upstream on miss, and populates cache on
// success. When the upstream fails and a stale entry is within staleCacheTTL,
// the stale forecast is returned with Stale set.
func (s *ForecastService) GetForecast(ctx context.Context, city, date string) (models.Forecast, error) {
	key := forecastKey(city, date)
	start := time.Now()
	logger := loggerFromContext(ctx)

	getStart := time.Now()
	raw, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
	} else if ok {
		var cached models.Forecast
		if decodeErr := json.Unmarshal(raw, &cached); decodeErr == nil {
			observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
			observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
			if logger != nil {
				logger.Debug("forecast cache hit", zap.String("city", city), zap.String("date", date))
			}
			return cached, nil
		}
		// Corrupt entry, fall through to upstream
		observability.CacheErrorsTotal.WithLabelValues("get", "decode").Inc()
	}

	if logger != nil {
		logger.Debug("forecast cache miss, fetching upstream", zap.String("city", city), zap.String("date", date))
	}

	// Use coalescer if enabled to prevent concurrent upstream calls for same key
	var forecast models.Forecast
	var upstreamErr error
	if s.coalescer != nil {
		coalesceStart := time.Now()
		forecast, upstreamErr = s.coalescer.GetOrDo(ctx, key, func() (models.Forecast, error) {
			return s.fetchUpstream(ctx, city, date)
		})
		coalesceWait := time.Since(coalesceStart)
		if upstreamErr == nil {
			// If wait time > 0, we likely coalesced (approximate)
			if coalesceWait > 10*time.Millisecond {
				observability.RequestCoalescingHitsTotal.WithLabelValues("forecast").Inc()
			}
			observability.RequestCoalescingWaitSeconds.Observe(coalesceWait.Seconds())
		}
	} else {
		forecast, upstreamErr = s.fetchUpstream(ctx, city, date)
	}
	if upstreamErr != nil {
		// Upstream failed - try stale cache if enabled
		if s.staleCacheTTL > 0 {
			staleRaw, storedAt, ok, staleErr := s.cache.GetStale(ctx, key, s.staleCacheTTL)
			if staleErr == nil && ok {
				var stale models.Forecast
				if decodeErr := json.Unmarshal(staleRaw, &stale); decodeErr == nil {
					staleAge := time.Since(storedAt)
					observability.StaleCacheServesTotal.WithLabelValues("forecast").Inc()
					observability.StaleCacheAgeSeconds.Observe(staleAge.Seconds())
					stale.Stale = true
					if logger != nil {
						logger.Info("serving stale forecast", zap.String("city", city), zap.Duration("age", staleAge))
					}
					return stale, nil
				}
			}
		}
		return models.Forecast{}, fmt.Errorf("fetch forecast for %s on %s: %w", city, date, upstreamErr)
	}

	setStart := time.Now()
	encoded, _ := json.Marshal(forecast)
	if setErr := s.cache.Set(ctx, key, encoded, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("forecast cache set failed", zap.String("city", city), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	if logger != nil {
		logger.Debug("forecast served", zap.String("city", city), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return forecast, nil
}

// fetchUpstream geocodes the city and fetches the daily forecast. Both calls
// run against the same context so cancellation covers the whole chain.
func (s *ForecastService) fetchUpstream(ctx context.Context, city, date string) (models.Forecast, error) {
	coords, err := s.client.Geocode(ctx, city)
	if err != nil {
		return models.Forecast{}, err
	}
	return s.client.DailyForecast(ctx, coords, date)
}

// forecastKey normalizes city names so cache keys are stable regardless of
// input casing and padding.
func forecastKey(city, date string) string {
	return "forecast:" + strings.ToLower(strings.TrimSpace(city)) + ":" + date
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
