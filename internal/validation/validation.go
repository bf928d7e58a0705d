// Package validation checks user-supplied values at the HTTP boundary.
package validation

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// ErrInputEmpty is returned when the question is empty or whitespace-only after trim.
var ErrInputEmpty = errors.New("input is required")

// ErrInputTooLong is returned when the question length exceeds the maximum.
var ErrInputTooLong = errors.New("input too long")

// ErrInputInvalidChars is returned when the question contains control characters.
var ErrInputInvalidChars = errors.New("input contains invalid characters")

// ValidateInput trims the question, enforces the maximum length (in runes)
// and rejects control characters other than newline and tab. Returns the
// trimmed string or an error suitable for 400 INVALID_INPUT responses.
func ValidateInput(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrInputEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrInputTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) && c != '\n' && c != '\t' {
			return "", ErrInputInvalidChars
		}
	}
	return s, nil
}

// ErrInvalidCurrency is returned for malformed ISO 4217 currency codes.
var ErrInvalidCurrency = errors.New("invalid currency code")

// ValidateCurrencyCode checks for a three-letter ISO 4217 code and returns
// it upper-cased.
func ValidateCurrencyCode(code string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(code))
	if len(s) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return s, nil
}

// ErrInvalidIATACode is returned for malformed airport codes.
var ErrInvalidIATACode = errors.New("invalid IATA code")

// ValidateIATACode checks for a three-letter IATA location code and returns
// it upper-cased.
func ValidateIATACode(code string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(code))
	if len(s) != 3 {
		return "", ErrInvalidIATACode
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return "", ErrInvalidIATACode
		}
	}
	return s, nil
}

// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
var ErrInvalidDate = errors.New("invalid date")

// ValidateISODate checks for a calendar date in YYYY-MM-DD form.
func ValidateISODate(date string) (string, error) {
	s := strings.TrimSpace(date)
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", ErrInvalidDate
	}
	return s, nil
}
