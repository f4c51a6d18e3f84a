package queue

import "errors"

var (
	// ErrCancelled is returned by DequeueBatch when the cancel channel fires
	// before an item became available.
	ErrCancelled = errors.New("queue: dequeue cancelled")
	// ErrClosed is the terminal sentinel returned once the queue has been
	// closed and fully drained.
	ErrClosed = errors.New("queue: closed")
)
