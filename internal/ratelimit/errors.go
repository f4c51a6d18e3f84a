package ratelimit

import "errors"

// ErrCancelled is returned by Acquire when cancel fires before the minimum
// interval elapsed. State is left untouched.
var ErrCancelled = errors.New("ratelimit: acquire cancelled")
