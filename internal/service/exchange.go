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

// ExchangeService retrieves currency exchange rates using cache-aside with
// stale fallback. Rates move slowly relative to forecast data so the TTL is
// longer and coalescing is unnecessary; the key space is tiny (currency
// pairs) and collisions under load just mean one extra upstream call.
type ExchangeService struct {
	client        client.ExchangeClient
	cache         cache.Cache
	ttl           time.Duration
	staleCacheTTL time.Duration
}

// NewExchangeService creates an ExchangeService with the provided dependencies.
func NewExchangeService(client client.ExchangeClient, cache cache.Cache, ttl, staleCacheTTL time.Duration) *ExchangeService {
	return &ExchangeService{
		client:        client,
		cache:         cache,
		ttl:           ttl,
		staleCacheTTL: staleCacheTTL,
	}
}

// GetRate returns the conversion rate from one ISO 4217 currency to another.
func (s *ExchangeService) GetRate(ctx context.Context, from, to string) (models.ExchangeRate, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	key := "rate:" + from + ":" + to
	logger := loggerFromContext(ctx)

	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
	} else if ok {
		var cached models.ExchangeRate
		if decodeErr := json.Unmarshal(raw, &cached); decodeErr == nil {
			observability.CacheHitsTotal.WithLabelValues("exchange").Inc()
			return cached, nil
		}
		observability.CacheErrorsTotal.WithLabelValues("get", "decode").Inc()
	}

	rate, upstreamErr := s.client.GetRate(ctx, from, to)
	if upstreamErr != nil {
		if s.staleCacheTTL > 0 {
			staleRaw, storedAt, ok, staleErr := s.cache.GetStale(ctx, key, s.staleCacheTTL)
			if staleErr == nil && ok {
				var stale models.ExchangeRate
				if decodeErr := json.Unmarshal(staleRaw, &stale); decodeErr == nil {
					staleAge := time.Since(storedAt)
					observability.StaleCacheServesTotal.WithLabelValues("exchange").Inc()
					observability.StaleCacheAgeSeconds.Observe(staleAge.Seconds())
					stale.Stale = true
					if logger != nil {
						logger.Info("serving stale rate", zap.String("from", from), zap.String("to", to), zap.Duration("age", staleAge))
					}
					return stale, nil
				}
			}
		}
		return models.ExchangeRate{}, fmt.Errorf("fetch rate %s/%s: %w", from, to, upstreamErr)
	}

	encoded, _ := json.Marshal(rate)
	if setErr := s.cache.Set(ctx, key, encoded, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		if logger != nil {
			logger.Warn("rate cache set failed", zap.String("from", from), zap.Error(setErr))
		}
	}
	return rate, nil
}
