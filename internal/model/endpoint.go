package model

import "time"

// BreakerPhase mirrors the breaker's three states for reporting purposes.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// EndpointState is a read-only view of one endpoint's rate-limiter and
// breaker state. The mutable state it describes is owned by
// internal/ratelimit and internal/breaker, each guarded by its own
// per-endpoint lock; this struct never itself is locked. No code in this
// tree constructs one, and Stats() reports no per-endpoint breaker or
// limiter state.
type EndpointState struct {
	Endpoint            string
	LastSendTime        time.Time
	BreakerPhase        BreakerPhase
	ConsecutiveFailures int
	HalfOpenProbeInUse  bool
}
