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

// ExchangeClient fetches currency conversion rates.
type ExchangeClient interface {
	GetRate(ctx context.Context, from, to string) (models.ExchangeRate, error)
}

// ExchangeRateHostClient talks to the exchangerate.host convert endpoint.
type ExchangeRateHostClient struct {
	apiURL string
	client *http.Client
	retry  retryPolicy
}

// NewExchangeRateHostClient creates an ExchangeRateHostClient.
func NewExchangeRateHostClient(apiURL string, timeout time.Duration) *ExchangeRateHostClient {
	return &ExchangeRateHostClient{
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
		retry:  defaultRetryPolicy(),
	}
}

type convertResponse struct {
	Info struct {
		Rate float64 `json:"rate"`
	} `json:"info"`
	Result  float64 `json:"result"`
	Success *bool   `json:"success"`
}

// GetRate fetches the current conversion rate from one currency to another.
func (c *ExchangeRateHostClient) GetRate(ctx context.Context, from, to string) (models.ExchangeRate, error) {
	var rate models.ExchangeRate
	err := c.retry.do(ctx, "exchange", func() error {
		reqURL, err := url.Parse(c.apiURL)
		if err != nil {
			return fmt.Errorf("invalid exchange URL: %w", err)
		}
		params := url.Values{}
		params.Set("from", from)
		params.Set("to", to)
		reqURL.RawQuery = params.Encode()

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if corrID := extractCorrelationID(ctx); corrID != "" {
			req.Header.Set("X-Correlation-ID", corrID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			observeCall("exchange", start, 0, err)
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()
		observeCall("exchange", start, resp.StatusCode, nil)

		if err := checkStatus(resp); err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		var apiResp convertResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return fmt.Errorf("parse convert response: %w", err)
		}
		if apiResp.Success != nil && !*apiResp.Success {
			return fmt.Errorf("%w: convert reported failure", ErrUpstreamFailure)
		}
		value := apiResp.Info.Rate
		if value == 0 {
			value = apiResp.Result
		}
		if value == 0 {
			return fmt.Errorf("%w: no rate for %s->%s", ErrUpstreamFailure, from, to)
		}

		rate = models.ExchangeRate{
			From:      from,
			To:        to,
			Rate:      value,
			Timestamp: time.Now(),
		}
		return nil
	})
	return rate, err
}
