// Package client holds the non-LLM upstream API clients: Open-Meteo
// (geocoding and forecasts), exchangerate.host, Amadeus flight search and
// ipapi.co geolocation. All follow the same shape: short timeout per call,
// retry with exponential backoff and jitter on transient failures, typed
// sentinel errors, per-service metrics.
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/voyagekit/travel-concierge/internal/observability"
)

var (
	ErrCityNotFound    = errors.New("city not found")
	ErrNoForecast      = errors.New("no forecast data")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
)

// retryPolicy holds the shared backoff parameters for a client.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 3, baseDelay: 100 * time.Millisecond, maxDelay: 2 * time.Second}
}

// do runs fn with retries. service labels the retry metric.
func (p retryPolicy) do(ctx context.Context, service string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(service).Inc()
			delay := p.backoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "connection refused")
}

// observeCall records upstream call metrics for a completed HTTP exchange.
func observeCall(service string, start time.Time, statusCode int, callErr error) {
	status := "error"
	if callErr == nil {
		status = statusLabel(statusCode)
	}
	observability.UpstreamCallsTotal.WithLabelValues(service, status).Inc()
	observability.UpstreamCallDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// checkStatus maps HTTP error statuses to the shared sentinel errors.
func checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}
