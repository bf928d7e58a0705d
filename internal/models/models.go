package models

import "time"

// Forecast is a daily weather forecast for a city on a specific date.
type Forecast struct {
	City          string    `json:"city"`
	Date          string    `json:"date"` // YYYY-MM-DD
	MinTempC      float64   `json:"minTempC"`
	MaxTempC      float64   `json:"maxTempC"`
	RainChancePct *float64  `json:"rainChancePct,omitempty"` // nil when upstream omits it
	Timestamp     time.Time `json:"timestamp"`
	Stale         bool      `json:"stale,omitempty"` // Indicates data served from stale cache
}

// ExchangeRate is a conversion rate between two currencies.
type ExchangeRate struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
	Stale     bool      `json:"stale,omitempty"` // Indicates data served from stale cache
}

// FlightSegment is one leg of an itinerary.
type FlightSegment struct {
	Carrier     string `json:"carrier"`
	Number      string `json:"number"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	DepartsAt   string `json:"departsAt"`
	ArrivesAt   string `json:"arrivesAt"`
}

// FlightItinerary is a sequence of segments with a total duration.
type FlightItinerary struct {
	Duration string          `json:"duration"`
	Segments []FlightSegment `json:"segments"`
}

// FlightOffer is a priced flight option returned by the flight search.
type FlightOffer struct {
	Price       string            `json:"price"`
	Currency    string            `json:"currency"`
	Itineraries []FlightItinerary `json:"itineraries"`
}

// GeoLocation is the result of an IP geolocation lookup.
type GeoLocation struct {
	IP          string `json:"ip"`
	City        string `json:"city"`
	Region      string `json:"region"`
	CountryName string `json:"country_name"`
	CountryCode string `json:"country_code"`
	Currency    string `json:"currency"`
	Timezone    string `json:"timezone"`
}

// Availability is a trip date range collected by the form agent.
type Availability struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// TripForm holds the booking facts the form agent collects through conversation.
// Zero values mean not yet collected.
type TripForm struct {
	Budget                 float64      `json:"budget,omitempty"`
	TypeOfHoliday          string       `json:"typeOfHoliday,omitempty"`
	TravelGroup            string       `json:"travelGroup,omitempty"`
	Availability           Availability `json:"availability,omitempty"`
	DestinationPreferences []string     `json:"destinationPreferences,omitempty"`
}
