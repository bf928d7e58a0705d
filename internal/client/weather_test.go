package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenMeteoClient_Geocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got != "Paris" {
			t.Errorf("name param = %q, want Paris", got)
		}
		if got := r.URL.Query().Get("count"); got != "1" {
			t.Errorf("count param = %q, want 1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"name":"Paris","latitude":48.8566,"longitude":2.3522}]}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, srv.URL, 5*time.Second)
	coords, err := c.Geocode(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("Geocode() error = %v", err)
	}
	if coords.Name != "Paris" || coords.Latitude != 48.8566 || coords.Longitude != 2.3522 {
		t.Errorf("Geocode() = %+v, want Paris at 48.8566,2.3522", coords)
	}
}

func TestOpenMeteoClient_Geocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, srv.URL, 5*time.Second)
	_, err := c.Geocode(context.Background(), "Nowhereville")
	if !errors.Is(err, ErrCityNotFound) {
		t.Errorf("Geocode() error = %v, want ErrCityNotFound", err)
	}
}

func TestOpenMeteoClient_Geocode_ServerErrorRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, srv.URL, 5*time.Second)
	c.retry = retryPolicy{attempts: 2, baseDelay: time.Millisecond, maxDelay: time.Millisecond}

	_, err := c.Geocode(context.Background(), "Paris")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("Geocode() error = %v, want ErrUpstreamFailure", err)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestOpenMeteoClient_Geocode_RetrySucceedsOnSecondAttempt(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"results":[{"name":"Paris","latitude":48.85,"longitude":2.35}]}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, srv.URL, 5*time.Second)
	c.retry = retryPolicy{attempts: 3, baseDelay: time.Millisecond, maxDelay: time.Millisecond}

	coords, err := c.Geocode(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("Geocode() error = %v", err)
	}
	if coords.Name != "Paris" {
		t.Errorf("Geocode() name = %q, want Paris", coords.Name)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestOpenMeteoClient_DailyForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("start_date"); got != "2026-08-29" {
			t.Errorf("start_date = %q, want 2026-08-29", got)
		}
		if got := q.Get("end_date"); got != "2026-08-29" {
			t.Errorf("end_date = %q, want 2026-08-29", got)
		}
		if got := q.Get("daily"); got != "temperature_2m_max,temperature_2m_min,precipitation_probability_mean" {
			t.Errorf("daily = %q", got)
		}
		w.Write([]byte(`{"daily":{"temperature_2m_max":[21.4],"temperature_2m_min":[12.1],"precipitation_probability_mean":[35]}}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, srv.URL, 5*time.Second)
	forecast, err := c.DailyForecast(context.Background(), Coordinates{Name: "Paris", Latitude: 48.85, Longitude: 2.35}, "2026-08-29")
	if err != nil {
		t.Fatalf("DailyForecast() error = %v", err)
	}
	if forecast.City != "Paris" || forecast.Date != "2026-08-29" {
		t.Errorf("DailyForecast() = %+v, want Paris 2026-08-29", forecast)
	}
	if forecast.MinTempC != 12.1 || forecast.MaxTempC != 21.4 {
		t.Errorf("temps = %g/%g, want 12.1/21.4", forecast.MinTempC, forecast.MaxTempC)
	}
	if forecast.RainChancePct == nil || *forecast.RainChancePct != 35 {
		t.Errorf("RainChancePct = %v, want 35", forecast.RainChancePct)
	}
	if forecast.Timestamp.IsZero() {
		t.Error("Timestamp is zero, want set")
	}
}

func TestOpenMeteoClient_DailyForecast_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{"temperature_2m_max":[],"temperature_2m_min":[]}}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, srv.URL, 5*time.Second)
	_, err := c.DailyForecast(context.Background(), Coordinates{Name: "Paris"}, "2030-01-01")
	if !errors.Is(err, ErrNoForecast) {
		t.Errorf("DailyForecast() error = %v, want ErrNoForecast", err)
	}
}

func TestOpenMeteoClient_DailyForecast_NullRainChance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{"temperature_2m_max":[21.4],"temperature_2m_min":[12.1],"precipitation_probability_mean":[null]}}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, srv.URL, 5*time.Second)
	forecast, err := c.DailyForecast(context.Background(), Coordinates{Name: "Paris"}, "2026-08-29")
	if err != nil {
		t.Fatalf("DailyForecast() error = %v", err)
	}
	if forecast.RainChancePct != nil {
		t.Errorf("RainChancePct = %v, want nil for null value", *forecast.RainChancePct)
	}
}
