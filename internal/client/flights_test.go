package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const offersPayload = `{
	"data": [{
		"price": {"total": "412.50", "currency": "EUR"},
		"itineraries": [{
			"duration": "PT2H15M",
			"segments": [{
				"carrierCode": "AF",
				"number": "1234",
				"departure": {"iataCode": "CDG", "at": "2026-09-15T08:30:00"},
				"arrival": {"iataCode": "FCO", "at": "2026-09-15T10:45:00"}
			}]
		}]
	}]
}`

// newAmadeusTestServer serves the token endpoint and flight-offers search.
// tokenCalls and searchCalls count the requests received by each.
func newAmadeusTestServer(t *testing.T, tokenCalls, searchCalls *int, searchHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		*tokenCalls++
		if r.Method != http.MethodPost {
			t.Errorf("token method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		if got := r.PostForm.Get("client_id"); got != "test-id" {
			t.Errorf("client_id = %q, want test-id", got)
		}
		w.Write([]byte(`{"access_token":"tok-1","expires_in":1799}`))
	})
	mux.HandleFunc("/v2/shopping/flight-offers", func(w http.ResponseWriter, r *http.Request) {
		*searchCalls++
		searchHandler(w, r)
	})
	return httptest.NewServer(mux)
}

func TestAmadeusClient_SearchOffers(t *testing.T) {
	var tokenCalls, searchCalls int
	srv := newAmadeusTestServer(t, &tokenCalls, &searchCalls, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want Bearer tok-1", got)
		}
		q := r.URL.Query()
		if got := q.Get("originLocationCode"); got != "CDG" {
			t.Errorf("origin = %q, want CDG", got)
		}
		if got := q.Get("adults"); got != "1" {
			t.Errorf("adults = %q, want defaulted 1", got)
		}
		if got := q.Get("max"); got != "5" {
			t.Errorf("max = %q, want defaulted 5", got)
		}
		if q.Has("returnDate") {
			t.Error("returnDate set for one-way search")
		}
		w.Write([]byte(offersPayload))
	})
	defer srv.Close()

	c, err := NewAmadeusClient("test-id", "test-secret", srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewAmadeusClient() error = %v", err)
	}

	offers, err := c.SearchOffers(context.Background(), FlightSearch{
		Origin: "CDG", Destination: "FCO", DepartureDate: "2026-09-15",
	})
	if err != nil {
		t.Fatalf("SearchOffers() error = %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(offers))
	}
	offer := offers[0]
	if offer.Price != "412.50" || offer.Currency != "EUR" {
		t.Errorf("offer price = %s %s, want EUR 412.50", offer.Currency, offer.Price)
	}
	if len(offer.Itineraries) != 1 || len(offer.Itineraries[0].Segments) != 1 {
		t.Fatalf("itineraries = %+v, want one with one segment", offer.Itineraries)
	}
	seg := offer.Itineraries[0].Segments[0]
	if seg.Carrier != "AF" || seg.Number != "1234" || seg.Origin != "CDG" || seg.Destination != "FCO" {
		t.Errorf("segment = %+v", seg)
	}
}

func TestAmadeusClient_SearchOffers_TokenReused(t *testing.T) {
	var tokenCalls, searchCalls int
	srv := newAmadeusTestServer(t, &tokenCalls, &searchCalls, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(offersPayload))
	})
	defer srv.Close()

	c, _ := NewAmadeusClient("test-id", "test-secret", srv.URL, 5*time.Second)
	ctx := context.Background()
	search := FlightSearch{Origin: "CDG", Destination: "FCO", DepartureDate: "2026-09-15"}

	if _, err := c.SearchOffers(ctx, search); err != nil {
		t.Fatalf("first SearchOffers() error = %v", err)
	}
	if _, err := c.SearchOffers(ctx, search); err != nil {
		t.Fatalf("second SearchOffers() error = %v", err)
	}
	if tokenCalls != 1 {
		t.Errorf("token calls = %d, want 1 (cached token must be reused)", tokenCalls)
	}
	if searchCalls != 2 {
		t.Errorf("search calls = %d, want 2", searchCalls)
	}
}

func TestAmadeusClient_SearchOffers_ExpiredTokenReauthenticates(t *testing.T) {
	var tokenCalls, searchCalls int
	srv := newAmadeusTestServer(t, &tokenCalls, &searchCalls, func(w http.ResponseWriter, r *http.Request) {
		if searchCalls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(offersPayload))
	})
	defer srv.Close()

	c, _ := NewAmadeusClient("test-id", "test-secret", srv.URL, 5*time.Second)
	c.retry = retryPolicy{attempts: 3, baseDelay: time.Millisecond, maxDelay: time.Millisecond}

	offers, err := c.SearchOffers(context.Background(), FlightSearch{
		Origin: "CDG", Destination: "FCO", DepartureDate: "2026-09-15",
	})
	if err != nil {
		t.Fatalf("SearchOffers() error = %v", err)
	}
	if len(offers) != 1 {
		t.Errorf("offers = %d, want 1 after re-auth", len(offers))
	}
	if tokenCalls != 2 {
		t.Errorf("token calls = %d, want 2 (401 must invalidate the cached token)", tokenCalls)
	}
}

func TestAmadeusClient_SearchOffers_RoundTripSendsReturnDate(t *testing.T) {
	var tokenCalls, searchCalls int
	srv := newAmadeusTestServer(t, &tokenCalls, &searchCalls, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("returnDate"); got != "2026-09-22" {
			t.Errorf("returnDate = %q, want 2026-09-22", got)
		}
		w.Write([]byte(offersPayload))
	})
	defer srv.Close()

	c, _ := NewAmadeusClient("test-id", "test-secret", srv.URL, 5*time.Second)
	_, err := c.SearchOffers(context.Background(), FlightSearch{
		Origin: "CDG", Destination: "FCO",
		DepartureDate: "2026-09-15", ReturnDate: "2026-09-22",
		Adults: 2, MaxResults: 3,
	})
	if err != nil {
		t.Fatalf("SearchOffers() error = %v", err)
	}
}

func TestAmadeusClient_TokenRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := NewAmadeusClient("bad-id", "bad-secret", srv.URL, 5*time.Second)
	c.retry = retryPolicy{attempts: 1, baseDelay: time.Millisecond, maxDelay: time.Millisecond}

	_, err := c.SearchOffers(context.Background(), FlightSearch{
		Origin: "CDG", Destination: "FCO", DepartureDate: "2026-09-15",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("SearchOffers() error = %v, want ErrUnauthorized", err)
	}
}

func TestNewAmadeusClient_MissingCredentials(t *testing.T) {
	if _, err := NewAmadeusClient("", "secret", "http://example.com", time.Second); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("NewAmadeusClient() error = %v, want ErrUnauthorized", err)
	}
	if _, err := NewAmadeusClient("id", "", "http://example.com", time.Second); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("NewAmadeusClient() error = %v, want ErrUnauthorized", err)
	}
}
