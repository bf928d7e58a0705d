package agent

import (
	"context"

	"github.com/voyagekit/travel-concierge/internal/client"
)

// countryCurrency maps ISO country codes to their primary currency. Used when
// the geolocation response names a country but not a currency.
var countryCurrency = map[string]string{
	"US": "USD",
	"GB": "GBP",
	"DE": "EUR",
	"FR": "EUR",
	"ES": "EUR",
	"IT": "EUR",
	"NL": "EUR",
	"PT": "EUR",
	"IE": "EUR",
	"JP": "JPY",
	"CN": "CNY",
	"HK": "HKD",
	"CA": "CAD",
	"AU": "AUD",
	"NZ": "NZD",
	"CH": "CHF",
	"SE": "SEK",
	"NO": "NOK",
	"DK": "DKK",
	"IN": "INR",
	"BR": "BRL",
	"MX": "MXN",
	"SG": "SGD",
	"KR": "KRW",
	"ZA": "ZAR",
}

// detectLocalCurrency resolves the caller's home currency from their IP.
// Falls back to the country map when the lookup omits a currency, and to USD
// when geolocation fails entirely.
func detectLocalCurrency(ctx context.Context, geoip client.GeoIPClient, ip string) string {
	if geoip != nil {
		loc, err := geoip.Lookup(ctx, ip)
		if err == nil {
			if loc.Currency != "" {
				return loc.Currency
			}
			if c, ok := countryCurrency[loc.CountryCode]; ok {
				return c
			}
		}
	}
	return "USD"
}
