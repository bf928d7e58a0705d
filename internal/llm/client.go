package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voyagekit/travel-concierge/internal/circuitbreaker"
	"github.com/voyagekit/travel-concierge/internal/observability"
)

// Client is the interface agents use to talk to the model.
type Client interface {
	Chat(ctx context.Context, req Request) (Message, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrEmptyResponse   = errors.New("empty completion")
)

// OpenAIClient calls the OpenAI chat-completions API with retry, backoff and
// an optional circuit breaker.
type OpenAIClient struct {
	apiKey         string
	baseURL        string
	model          string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker

	// API key validation is cached so health checks don't hit the models
	// endpoint on every probe.
	validateMu   sync.Mutex
	validatedAt  time.Time
	validateErr  error
	validateOnce bool
}

// NewOpenAIClient creates a client with default retry parameters.
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration) (*OpenAIClient, error) {
	return NewOpenAIClientWithRetry(apiKey, baseURL, model, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewOpenAIClientWithRetry creates a client with explicit retry parameters.
func NewOpenAIClientWithRetry(apiKey, baseURL, model string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &OpenAIClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		model:          model,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker attaches a breaker guarding all chat calls.
func (c *OpenAIClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends the request and returns the assistant message, retrying
// transient failures with exponential backoff.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (Message, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.LLMRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return Message{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		var result Message
		call := func() error {
			var err error
			result, err = c.callAPI(ctx, req)
			return err
		}

		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return Message{}, err
		}
	}

	return Message{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenAIClient) callAPI(ctx context.Context, req Request) (Message, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Tools:       req.Tools,
	}
	if len(req.Tools) > 0 {
		body.ToolChoice = "auto"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		observability.LLMCallsTotal.WithLabelValues("error").Inc()
		return Message{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if corrID := extractCorrelationID(ctx); corrID != "" {
		httpReq.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.LLMCallsTotal.WithLabelValues("error").Inc()
		observability.LLMCallDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Message{}, fmt.Errorf("request timeout: %w", err)
		}
		return Message{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.LLMCallsTotal.WithLabelValues(status).Inc()
	observability.LLMCallDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return Message{}, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return Message{}, fmt.Errorf("parse response: %w", err)
	}
	observability.LLMTokensTotal.WithLabelValues("prompt").Add(float64(apiResp.Usage.PromptTokens))
	observability.LLMTokensTotal.WithLabelValues("completion").Add(float64(apiResp.Usage.CompletionTokens))

	if len(apiResp.Choices) == 0 {
		return Message{}, ErrEmptyResponse
	}
	return apiResp.Choices[0].Message, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}

	return false
}

func (c *OpenAIClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
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

const validateCacheTTL = time.Minute

// ValidateAPIKey checks the key against the models endpoint. Results are
// cached for a minute so frequent health probes don't hammer the API.
func (c *OpenAIClient) ValidateAPIKey(ctx context.Context) error {
	c.validateMu.Lock()
	defer c.validateMu.Unlock()
	if c.validateOnce && time.Since(c.validatedAt) < validateCacheTTL {
		return c.validateErr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failure says nothing about the key; don't cache it.
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.validateErr = fmt.Errorf("%w: API key rejected", ErrInvalidAPIKey)
	case resp.StatusCode != http.StatusOK:
		c.validateErr = fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	default:
		c.validateErr = nil
	}
	c.validatedAt = time.Now()
	c.validateOnce = true
	return c.validateErr
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
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
