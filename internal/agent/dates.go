package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var inDaysPattern = regexp.MustCompile(`^in (\d+) days?$`)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseNaturalDate resolves a date phrase to YYYY-MM-DD relative to now.
// Accepts exact dates ("2025-11-02") and phrases like "today", "tomorrow",
// "in 3 days", "friday" or "next friday". Weekday names resolve to the next
// future occurrence, never today.
func parseNaturalDate(phrase string, now time.Time) (string, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	p := strings.ToLower(strings.TrimSpace(phrase))

	switch p {
	case "", "today", "tonight":
		return today.Format("2006-01-02"), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1).Format("2006-01-02"), nil
	}

	if m := inDaysPattern.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return "", fmt.Errorf("invalid day count %q", m[1])
		}
		return today.AddDate(0, 0, n).Format("2006-01-02"), nil
	}

	if wd, ok := weekdays[strings.TrimPrefix(p, "next ")]; ok {
		days := int(wd-today.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		return today.AddDate(0, 0, days).Format("2006-01-02"), nil
	}

	if d, err := time.Parse("2006-01-02", p); err == nil {
		return d.Format("2006-01-02"), nil
	}
	// Common long-hand forms like "November 2, 2025" or "2 November 2025"
	for _, layout := range []string{"January 2, 2006", "January 2 2006", "2 January 2006", "Jan 2, 2006", "Jan 2 2006"} {
		if d, err := time.Parse(layout, p); err == nil {
			return d.Format("2006-01-02"), nil
		}
	}

	return "", fmt.Errorf("unrecognized date phrase %q", phrase)
}
