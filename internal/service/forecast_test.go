package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/voyagekit/travel-concierge/internal/cache"
	"github.com/voyagekit/travel-concierge/internal/client"
	"github.com/voyagekit/travel-concierge/internal/models"
)

type mockWeatherClient struct {
	geocodeErr  error
	forecastErr error
	forecast    models.Forecast
	calls       int
}

func (m *mockWeatherClient) Geocode(ctx context.Context, city string) (client.Coordinates, error) {
	if m.geocodeErr != nil {
		return client.Coordinates{}, m.geocodeErr
	}
	return client.Coordinates{Name: "Paris", Latitude: 48.85, Longitude: 2.35}, nil
}

func (m *mockWeatherClient) DailyForecast(ctx context.Context, coords client.Coordinates, date string) (models.Forecast, error) {
	m.calls++
	if m.forecastErr != nil {
		return models.Forecast{}, m.forecastErr
	}
	out := m.forecast
	out.City = coords.Name
	out.Date = date
	out.Timestamp = time.Now()
	return out, nil
}

// failingCache returns errors from every operation, to exercise the degraded
// path where the service falls through to the upstream.
type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("cache connection refused")
}

func (failingCache) GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error) {
	return nil, time.Time{}, false, errors.New("cache connection refused")
}

func (failingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("cache connection refused")
}

func TestForecastService_GetForecast_CacheMissFetchesUpstream(t *testing.T) {
	mock := &mockWeatherClient{forecast: models.Forecast{MinTempC: 9, MaxTempC: 18}}
	c := cache.NewInMemoryCache(time.Hour)
	svc := NewForecastService(mock, c, 15*time.Minute, time.Hour, false, 0)

	got, err := svc.GetForecast(context.Background(), "Paris", "2026-08-29")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got.City != "Paris" || got.MaxTempC != 18 {
		t.Errorf("GetForecast() = %+v, want Paris with max 18", got)
	}
	if mock.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", mock.calls)
	}
}

func TestForecastService_GetForecast_CacheHitSkipsUpstream(t *testing.T) {
	mock := &mockWeatherClient{forecast: models.Forecast{MinTempC: 9, MaxTempC: 18}}
	c := cache.NewInMemoryCache(time.Hour)
	svc := NewForecastService(mock, c, 15*time.Minute, time.Hour, false, 0)
	ctx := context.Background()

	if _, err := svc.GetForecast(ctx, "Paris", "2026-08-29"); err != nil {
		t.Fatalf("first GetForecast() error = %v", err)
	}
	got, err := svc.GetForecast(ctx, "Paris", "2026-08-29")
	if err != nil {
		t.Fatalf("second GetForecast() error = %v", err)
	}
	if got.City != "Paris" {
		t.Errorf("GetForecast() city = %q, want Paris", got.City)
	}
	if mock.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second call must hit cache)", mock.calls)
	}
}

func TestForecastService_GetForecast_KeyNormalization(t *testing.T) {
	mock := &mockWeatherClient{forecast: models.Forecast{MaxTempC: 18}}
	c := cache.NewInMemoryCache(time.Hour)
	svc := NewForecastService(mock, c, 15*time.Minute, time.Hour, false, 0)
	ctx := context.Background()

	if _, err := svc.GetForecast(ctx, "  PARIS ", "2026-08-29"); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if _, err := svc.GetForecast(ctx, "paris", "2026-08-29"); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if mock.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (case and padding must share a key)", mock.calls)
	}
}

func TestForecastService_GetForecast_UpstreamError(t *testing.T) {
	mock := &mockWeatherClient{forecastErr: client.ErrUpstreamFailure}
	c := cache.NewInMemoryCache(time.Hour)
	svc := NewForecastService(mock, c, 15*time.Minute, 0, false, 0)

	_, err := svc.GetForecast(context.Background(), "Paris", "2026-08-29")
	if !errors.Is(err, client.ErrUpstreamFailure) {
		t.Errorf("GetForecast() error = %v, want ErrUpstreamFailure", err)
	}
}

func TestForecastService_GetForecast_StaleFallback(t *testing.T) {
	c := cache.NewInMemoryCache(2 * time.Hour)
	ctx := context.Background()

	// Seed an already expired entry directly
	stale := models.Forecast{City: "Paris", Date: "2026-08-29", MaxTempC: 17, Timestamp: time.Now().Add(-30 * time.Minute)}
	raw, _ := json.Marshal(stale)
	if err := c.Set(ctx, "forecast:paris:2026-08-29", raw, -time.Second); err != nil {
		t.Fatalf("seed Set() error = %v", err)
	}

	mock := &mockWeatherClient{forecastErr: client.ErrUpstreamFailure}
	svc := NewForecastService(mock, c, 15*time.Minute, 2*time.Hour, false, 0)

	got, err := svc.GetForecast(ctx, "Paris", "2026-08-29")
	if err != nil {
		t.Fatalf("GetForecast() error = %v, want stale fallback", err)
	}
	if !got.Stale {
		t.Error("GetForecast() Stale = false, want true for stale fallback")
	}
	if got.MaxTempC != 17 {
		t.Errorf("GetForecast() MaxTempC = %g, want 17", got.MaxTempC)
	}
}

func TestForecastService_GetForecast_StaleDisabled(t *testing.T) {
	c := cache.NewInMemoryCache(2 * time.Hour)
	ctx := context.Background()

	stale := models.Forecast{City: "Paris", MaxTempC: 17}
	raw, _ := json.Marshal(stale)
	_ = c.Set(ctx, "forecast:paris:2026-08-29", raw, -time.Second)

	mock := &mockWeatherClient{forecastErr: client.ErrUpstreamFailure}
	svc := NewForecastService(mock, c, 15*time.Minute, 0, false, 0)

	_, err := svc.GetForecast(ctx, "Paris", "2026-08-29")
	if err == nil {
		t.Error("GetForecast() error = nil, want error when stale fallback disabled")
	}
}

func TestForecastService_GetForecast_CacheFailureDegradesToUpstream(t *testing.T) {
	mock := &mockWeatherClient{forecast: models.Forecast{MaxTempC: 18}}
	svc := NewForecastService(mock, failingCache{}, 15*time.Minute, time.Hour, false, 0)

	got, err := svc.GetForecast(context.Background(), "Paris", "2026-08-29")
	if err != nil {
		t.Fatalf("GetForecast() error = %v, want upstream fallback on cache failure", err)
	}
	if got.MaxTempC != 18 {
		t.Errorf("GetForecast() MaxTempC = %g, want 18", got.MaxTempC)
	}
}

func TestForecastService_GetForecast_GeocodeError(t *testing.T) {
	mock := &mockWeatherClient{geocodeErr: client.ErrCityNotFound}
	c := cache.NewInMemoryCache(time.Hour)
	svc := NewForecastService(mock, c, 15*time.Minute, 0, false, 0)

	_, err := svc.GetForecast(context.Background(), "Nowhereville", "2026-08-29")
	if !errors.Is(err, client.ErrCityNotFound) {
		t.Errorf("GetForecast() error = %v, want ErrCityNotFound", err)
	}
}
