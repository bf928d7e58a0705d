package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/voyagekit/travel-concierge/internal/circuitbreaker"
	"github.com/voyagekit/travel-concierge/internal/models"
)

// FlightSearch holds the parameters for a flight-offers search.
type FlightSearch struct {
	Origin        string // 3-letter IATA code
	Destination   string // 3-letter IATA code
	DepartureDate string // YYYY-MM-DD
	ReturnDate    string // optional, YYYY-MM-DD
	Adults        int
	MaxResults    int
}

// FlightsClient searches for flight offers.
type FlightsClient interface {
	SearchOffers(ctx context.Context, search FlightSearch) ([]models.FlightOffer, error)
}

// AmadeusClient talks to the Amadeus self-service API. OAuth2
// client-credentials tokens are cached until shortly before expiry.
type AmadeusClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client
	retry        retryPolicy
	breaker      *circuitbreaker.CircuitBreaker

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewAmadeusClient creates an AmadeusClient. Both credentials are required.
func NewAmadeusClient(clientID, clientSecret, baseURL string, timeout time.Duration) (*AmadeusClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: Amadeus credentials are required", ErrUnauthorized)
	}
	return &AmadeusClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: timeout},
		retry:        defaultRetryPolicy(),
	}, nil
}

// SetCircuitBreaker attaches a breaker guarding flight searches.
func (c *AmadeusClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a valid access token, fetching a fresh one when the cached
// token is missing or within a minute of expiry.
func (c *AmadeusClient) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	start := time.Now()
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		observeCall("amadeus_token", start, 0, err)
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	observeCall("amadeus_token", start, resp.StatusCode, nil)

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("%w: token rejected", ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: token endpoint HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUpstreamFailure)
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *AmadeusClient) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenMu.Unlock()
}

type offersResponse struct {
	Data []struct {
		Price struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"price"`
		Itineraries []struct {
			Duration string `json:"duration"`
			Segments []struct {
				CarrierCode string `json:"carrierCode"`
				Number      string `json:"number"`
				Departure   struct {
					IataCode string `json:"iataCode"`
					At       string `json:"at"`
				} `json:"departure"`
				Arrival struct {
					IataCode string `json:"iataCode"`
					At       string `json:"at"`
				} `json:"arrival"`
			} `json:"segments"`
		} `json:"itineraries"`
	} `json:"data"`
}

// SearchOffers runs a flight-offers search. An expired token is refreshed
// once transparently; other failures surface as sentinel errors.
func (c *AmadeusClient) SearchOffers(ctx context.Context, search FlightSearch) ([]models.FlightOffer, error) {
	if search.Adults <= 0 {
		search.Adults = 1
	}
	if search.MaxResults <= 0 {
		search.MaxResults = 5
	}

	var offers []models.FlightOffer
	call := func() error {
		var err error
		offers, err = c.searchOnce(ctx, search)
		return err
	}

	run := func() error {
		return c.retry.do(ctx, "amadeus", call)
	}
	if c.breaker != nil {
		return offers, c.breaker.Call(ctx, run)
	}
	return offers, run()
}

func (c *AmadeusClient) searchOnce(ctx context.Context, search FlightSearch) ([]models.FlightOffer, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(c.baseURL + "/v2/shopping/flight-offers")
	if err != nil {
		return nil, fmt.Errorf("invalid search URL: %w", err)
	}
	params := url.Values{}
	params.Set("originLocationCode", search.Origin)
	params.Set("destinationLocationCode", search.Destination)
	params.Set("departureDate", search.DepartureDate)
	params.Set("adults", fmt.Sprintf("%d", search.Adults))
	params.Set("max", fmt.Sprintf("%d", search.MaxResults))
	if search.ReturnDate != "" {
		params.Set("returnDate", search.ReturnDate)
	}
	reqURL.RawQuery = params.Encode()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observeCall("amadeus", start, 0, err)
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	observeCall("amadeus", start, resp.StatusCode, nil)

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		return nil, fmt.Errorf("%w: search token expired", ErrUpstreamFailure)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	var apiResp offersResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	offers := make([]models.FlightOffer, 0, len(apiResp.Data))
	for i, raw := range apiResp.Data {
		if i >= search.MaxResults {
			break
		}
		offer := models.FlightOffer{
			Price:    raw.Price.Total,
			Currency: raw.Price.Currency,
		}
		for _, rawItin := range raw.Itineraries {
			itin := models.FlightItinerary{Duration: rawItin.Duration}
			for _, seg := range rawItin.Segments {
				itin.Segments = append(itin.Segments, models.FlightSegment{
					Carrier:     seg.CarrierCode,
					Number:      seg.Number,
					Origin:      seg.Departure.IataCode,
					Destination: seg.Arrival.IataCode,
					DepartsAt:   seg.Departure.At,
					ArrivesAt:   seg.Arrival.At,
				})
			}
			offer.Itineraries = append(offer.Itineraries, itin)
		}
		offers = append(offers, offer)
	}
	return offers, nil
}
