package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/cache"
	"github.com/voyagekit/travel-concierge/internal/models"
	"github.com/voyagekit/travel-concierge/internal/observability"
)

// GeoIPClient resolves an IP address to a location.
type GeoIPClient interface {
	Lookup(ctx context.Context, ip string) (models.GeoLocation, error)
}

// IPAPIClient talks to ipapi.co. Loopback or empty IPs fall back to the
// caller-less endpoint, which geolocates the service's own egress address.
type IPAPIClient struct {
	baseURL string
	client  *http.Client
	retry   retryPolicy
}

// NewIPAPIClient creates an IPAPIClient.
func NewIPAPIClient(baseURL string, timeout time.Duration) *IPAPIClient {
	return &IPAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		retry:   defaultRetryPolicy(),
	}
}

type ipapiResponse struct {
	models.GeoLocation
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Lookup resolves the given IP. Error payloads (ipapi returns 200 with an
// error flag for reserved ranges and over-quota) surface as errors and are
// never cached.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (models.GeoLocation, error) {
	lookupURL := c.baseURL + "/json/"
	if !isLocalIP(ip) {
		lookupURL = c.baseURL + "/" + ip + "/json/"
	}

	var loc models.GeoLocation
	err := c.retry.do(ctx, "geoip", func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			observeCall("geoip", start, 0, err)
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()
		observeCall("geoip", start, resp.StatusCode, nil)

		if err := checkStatus(resp); err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		var apiResp ipapiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return fmt.Errorf("parse geoip response: %w", err)
		}
		if apiResp.Error {
			return fmt.Errorf("%w: geoip lookup rejected: %s", ErrUpstreamFailure, apiResp.Reason)
		}
		loc = apiResp.GeoLocation
		return nil
	})
	return loc, err
}

func isLocalIP(ip string) bool {
	return ip == "" || ip == "127.0.0.1" || ip == "::1"
}

// CachingGeoIP wraps a GeoIPClient with the shared cache. Lookups are keyed
// by IP ("local" for loopback) with a long TTL; travelers don't move
// continents between requests.
type CachingGeoIP struct {
	inner  GeoIPClient
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingGeoIP creates a CachingGeoIP with the given TTL.
func NewCachingGeoIP(inner GeoIPClient, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachingGeoIP {
	return &CachingGeoIP{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func geoipCacheKey(ip string) string {
	if isLocalIP(ip) {
		return "geoip:local"
	}
	return "geoip:" + ip
}

// Lookup implements GeoIPClient with cache-aside. Cache failures degrade to
// direct lookups; lookup failures are never cached.
func (c *CachingGeoIP) Lookup(ctx context.Context, ip string) (models.GeoLocation, error) {
	key := geoipCacheKey(ip)

	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", "unknown").Inc()
	} else if ok {
		var loc models.GeoLocation
		if err := json.Unmarshal(raw, &loc); err == nil {
			observability.CacheHitsTotal.WithLabelValues("geoip").Inc()
			return loc, nil
		}
	}

	loc, err := c.inner.Lookup(ctx, ip)
	if err != nil {
		return models.GeoLocation{}, err
	}

	if raw, err := json.Marshal(loc); err == nil {
		if setErr := c.cache.Set(ctx, key, raw, c.ttl); setErr != nil {
			observability.CacheErrorsTotal.WithLabelValues("set", "unknown").Inc()
			if c.logger != nil {
				c.logger.Warn("geoip cache set failed", zap.Error(setErr))
			}
		}
	}
	return loc, nil
}
