package cache

import (
	"encoding/json"
	"time"
)

// envelope wraps a cached payload with the metadata remote backends need to
// distinguish logical expiry (freshness) from physical eviction. Memcached
// and redis entries are kept alive past their logical TTL so GetStale works.
type envelope struct {
	Payload    json.RawMessage `json:"p"`
	StoredAt   time.Time       `json:"ts"`
	TTLSeconds int64           `json:"ttl"`
}

func wrap(value []byte, ttl time.Duration) ([]byte, error) {
	return json.Marshal(envelope{
		Payload:    value,
		StoredAt:   time.Now(),
		TTLSeconds: int64(ttl.Seconds()),
	})
}

func unwrap(raw []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

func (e envelope) fresh(now time.Time) bool {
	return now.Before(e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}
