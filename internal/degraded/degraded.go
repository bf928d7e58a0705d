package degraded

import (
	"time"

	"github.com/voyagekit/travel-concierge/internal/traffic"
)

// RecordSuccess records an ask that completed successfully.
func RecordSuccess() {
	traffic.RecordSuccess()
}

// RecordError records an ask that failed (LLM or upstream API error, timeout).
func RecordError() {
	traffic.RecordError()
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return traffic.ErrorRate(window)
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
