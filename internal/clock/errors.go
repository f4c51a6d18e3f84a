package clock

import "errors"

// ErrCancelled is returned by Sleep when the cancel channel fires first.
var ErrCancelled = errors.New("clock: sleep cancelled")
