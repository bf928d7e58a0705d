package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/client"
	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/models"
	"github.com/voyagekit/travel-concierge/internal/validation"
)

// FlightAgent answers flight search questions with a search_flights tool
// bound to the flight offers API. The caller's geolocation seeds the model's
// assumption about the home airport.
type FlightAgent struct {
	llm           llm.Client
	flights       client.FlightsClient
	geoip         client.GeoIPClient
	maxIterations int
	logger        *zap.Logger
}

// NewFlightAgent creates a FlightAgent. geoip may be nil.
func NewFlightAgent(llmClient llm.Client, flights client.FlightsClient, geoip client.GeoIPClient, maxIterations int, logger *zap.Logger) *FlightAgent {
	return &FlightAgent{
		llm:           llmClient,
		flights:       flights,
		geoip:         geoip,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Name implements Agent.
func (a *FlightAgent) Name() string { return "flight" }

// Description implements Agent.
func (a *FlightAgent) Description() string { return "for searching flight offers and prices" }

var flightToolSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"origin": {"type": "string", "description": "Origin as a 3-letter IATA code, e.g. NYC"},
		"destination": {"type": "string", "description": "Destination as a 3-letter IATA code, e.g. LAX"},
		"departure_date": {"type": "string", "description": "Departure date in YYYY-MM-DD format"},
		"return_date": {"type": "string", "description": "Optional return date in YYYY-MM-DD format for round trips"},
		"adults": {"type": "integer", "description": "Number of adult passengers, default 1"},
		"max_results": {"type": "integer", "description": "Maximum number of offers to return, default 5"}
	},
	"required": ["origin", "destination", "departure_date"]
}`)

// Run implements Agent.
func (a *FlightAgent) Run(ctx context.Context, st *State) (string, error) {
	return observeRun(a.Name(), func() (string, error) {
		home := "an unknown location"
		if a.geoip != nil {
			if loc, err := a.geoip.Lookup(ctx, st.ClientIP); err == nil && loc.City != "" {
				home = fmt.Sprintf("%s, %s", loc.City, loc.CountryName)
			}
		}

		tools := []llm.Tool{{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        "search_flights",
				Description: "Search for flight offers between two airports on a date. Returns priced options with itineraries.",
				Parameters:  flightToolSchema,
			},
		}}
		seed := []llm.Message{
			llm.SystemMessage(fmt.Sprintf(
				"You are a flight assistant that helps users find flight offers. "+
					"Understand the user's request to extract origin, destination, and travel dates. "+
					"Assume the user's home location is %s. "+
					"Assume 1 adult passenger and one-way trips unless stated otherwise. "+
					"Use 3-letter IATA airport codes (e.g., NYC, LAX, LHR). "+
					"Provide helpful responses about flight options.", home)),
			llm.UserMessage(st.Input),
		}
		handlers := map[string]toolFunc{
			"search_flights": a.searchFlights,
		}
		return runToolLoop(ctx, a.llm, a.logger, a.Name(), seed, tools, handlers, a.maxIterations)
	})
}

func (a *FlightAgent) searchFlights(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Origin        string `json:"origin"`
		Destination   string `json:"destination"`
		DepartureDate string `json:"departure_date"`
		ReturnDate    string `json:"return_date"`
		Adults        int    `json:"adults"`
		MaxResults    int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse search_flights arguments: %w", err)
	}
	origin, err := validation.ValidateIATACode(params.Origin)
	if err != nil {
		return fmt.Sprintf("Error: %q is not a valid 3-letter IATA airport code.", params.Origin), nil
	}
	destination, err := validation.ValidateIATACode(params.Destination)
	if err != nil {
		return fmt.Sprintf("Error: %q is not a valid 3-letter IATA airport code.", params.Destination), nil
	}
	departureDate, err := validation.ValidateISODate(params.DepartureDate)
	if err != nil {
		return fmt.Sprintf("Error: %q is not a valid departure date. Use YYYY-MM-DD.", params.DepartureDate), nil
	}
	returnDate := ""
	if params.ReturnDate != "" {
		if returnDate, err = validation.ValidateISODate(params.ReturnDate); err != nil {
			return fmt.Sprintf("Error: %q is not a valid return date. Use YYYY-MM-DD.", params.ReturnDate), nil
		}
	}

	offers, err := a.flights.SearchOffers(ctx, client.FlightSearch{
		Origin:        origin,
		Destination:   destination,
		DepartureDate: departureDate,
		ReturnDate:    returnDate,
		Adults:        params.Adults,
		MaxResults:    params.MaxResults,
	})
	if err != nil {
		return fmt.Sprintf("Error: Could not search flights from %s to %s. Check airport codes and dates.", params.Origin, params.Destination), nil
	}
	if len(offers) == 0 {
		return fmt.Sprintf("No flights found from %s to %s on %s.", params.Origin, params.Destination, params.DepartureDate), nil
	}
	return formatOffers(params.Origin, params.Destination, params.DepartureDate, offers), nil
}

// formatOffers renders offers as a readable summary for the model to relay.
func formatOffers(origin, destination, date string, offers []models.FlightOffer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d offer(s) for %s->%s on %s:", len(offers), origin, destination, date)
	for i, offer := range offers {
		fmt.Fprintf(&b, "\n\nOption %d: %s %s", i+1, offer.Currency, offer.Price)
		for j, itin := range offer.Itineraries {
			fmt.Fprintf(&b, "\n  Itinerary %d (Duration: %s):", j+1, itin.Duration)
			for k, seg := range itin.Segments {
				fmt.Fprintf(&b, "\n    Segment %d: %s%s %s->%s Depart: %s Arrive: %s",
					k+1, seg.Carrier, seg.Number, seg.Origin, seg.Destination, seg.DepartsAt, seg.ArrivesAt)
			}
		}
	}
	return b.String()
}
