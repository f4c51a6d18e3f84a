package sender

import "errors"

// Sentinel errors for conditions the sender surfaces to its caller directly
// rather than through model.DeliveryOutcome, grounded on
// dmitrymomot-saaskit's pkg/webhook/errors.go shape.
var (
	ErrBreakerOpen = errors.New("sender: circuit breaker is open")
	ErrCancelled   = errors.New("sender: send cancelled")
)
