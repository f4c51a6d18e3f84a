package sender

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays. Grounded on dmitrymomot-saaskit's
// pkg/webhook ExponentialBackoff, adjusted to spec.md §4.5's exact formula:
// base * 2^(attempt-1), capped, multiplied by a uniform random factor in
// [0.5, 1.0) (full jitter), rather than that package's symmetric ±jitter.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second}
}

// NextInterval returns the delay before the given retry attempt (1-indexed:
// attempt 1 is the delay before the first retry, after the first failure).
func (b Backoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}

	raw := float64(base) * math.Pow(2, float64(attempt-1))
	if raw > float64(cap) {
		raw = float64(cap)
	}

	jitter := 0.5 + rand.Float64()*0.5 // uniform in [0.5, 1.0)
	return time.Duration(raw * jitter)
}
