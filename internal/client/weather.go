package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voyagekit/travel-concierge/internal/models"
)

// WeatherClient resolves city names to coordinates and fetches daily forecasts.
type WeatherClient interface {
	Geocode(ctx context.Context, city string) (Coordinates, error)
	DailyForecast(ctx context.Context, coords Coordinates, date string) (models.Forecast, error)
}

// Coordinates is a geocoded city location.
type Coordinates struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// OpenMeteoClient talks to Open-Meteo's geocoding and forecast APIs.
// Neither requires an API key.
type OpenMeteoClient struct {
	geocodeURL  string
	forecastURL string
	client      *http.Client
	retry       retryPolicy
}

// NewOpenMeteoClient creates an OpenMeteoClient with the given endpoints and timeout.
func NewOpenMeteoClient(geocodeURL, forecastURL string, timeout time.Duration) *OpenMeteoClient {
	return &OpenMeteoClient{
		geocodeURL:  geocodeURL,
		forecastURL: forecastURL,
		client:      &http.Client{Timeout: timeout},
		retry:       defaultRetryPolicy(),
	}
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

// Geocode resolves a city name to coordinates using the first search result.
// Returns ErrCityNotFound when the API has no match.
func (c *OpenMeteoClient) Geocode(ctx context.Context, city string) (Coordinates, error) {
	var coords Coordinates
	err := c.retry.do(ctx, "geocoding", func() error {
		reqURL, err := url.Parse(c.geocodeURL)
		if err != nil {
			return fmt.Errorf("invalid geocoding URL: %w", err)
		}
		params := url.Values{}
		params.Set("name", city)
		params.Set("count", "1")
		reqURL.RawQuery = params.Encode()

		body, err := c.getJSON(ctx, "geocoding", reqURL.String())
		if err != nil {
			return err
		}

		var apiResp geocodeResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return fmt.Errorf("parse geocoding response: %w", err)
		}
		if len(apiResp.Results) == 0 {
			return fmt.Errorf("%w: %s", ErrCityNotFound, city)
		}
		coords = Coordinates{
			Name:      apiResp.Results[0].Name,
			Latitude:  apiResp.Results[0].Latitude,
			Longitude: apiResp.Results[0].Longitude,
		}
		return nil
	})
	return coords, err
}

type forecastResponse struct {
	Daily struct {
		TemperatureMax []float64  `json:"temperature_2m_max"`
		TemperatureMin []float64  `json:"temperature_2m_min"`
		RainChance     []*float64 `json:"precipitation_probability_mean"`
	} `json:"daily"`
}

// DailyForecast fetches min/max temperature and mean precipitation
// probability for the given coordinates and date (YYYY-MM-DD).
// Returns ErrNoForecast when the API has no data for that date.
func (c *OpenMeteoClient) DailyForecast(ctx context.Context, coords Coordinates, date string) (models.Forecast, error) {
	var forecast models.Forecast
	err := c.retry.do(ctx, "forecast", func() error {
		reqURL, err := url.Parse(c.forecastURL)
		if err != nil {
			return fmt.Errorf("invalid forecast URL: %w", err)
		}
		params := url.Values{}
		params.Set("latitude", fmt.Sprintf("%.4f", coords.Latitude))
		params.Set("longitude", fmt.Sprintf("%.4f", coords.Longitude))
		params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_mean")
		params.Set("timezone", "auto")
		params.Set("start_date", date)
		params.Set("end_date", date)
		reqURL.RawQuery = params.Encode()

		body, err := c.getJSON(ctx, "forecast", reqURL.String())
		if err != nil {
			return err
		}

		var apiResp forecastResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return fmt.Errorf("parse forecast response: %w", err)
		}
		if len(apiResp.Daily.TemperatureMax) == 0 || len(apiResp.Daily.TemperatureMin) == 0 {
			return fmt.Errorf("%w: %s on %s", ErrNoForecast, coords.Name, date)
		}

		forecast = models.Forecast{
			City:      coords.Name,
			Date:      date,
			MinTempC:  apiResp.Daily.TemperatureMin[0],
			MaxTempC:  apiResp.Daily.TemperatureMax[0],
			Timestamp: time.Now(),
		}
		if len(apiResp.Daily.RainChance) > 0 && apiResp.Daily.RainChance[0] != nil {
			forecast.RainChancePct = apiResp.Daily.RainChance[0]
		}
		return nil
	})
	return forecast, err
}

func (c *OpenMeteoClient) getJSON(ctx context.Context, service, rawURL string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observeCall(service, start, 0, err)
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	observeCall(service, start, resp.StatusCode, nil)

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
