// Package ratelimit implements the per-endpoint minimum-interval limiter
// from spec.md §4.2: single-slot, no burst, FIFO-fair among waiters.
//
// No dependency in the retrieved corpus fits this shape. golang.org/x/time/rate
// is a token bucket with burst capacity, which spec.md explicitly rules out
// ("Single-slot token logic: no burst"), and it is not imported by any repo
// in the corpus. This is therefore one of the few genuinely stdlib-only
// pieces of the tree; see DESIGN.md.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"feedrelay/internal/clock"
)

// Limiter enforces MinInterval between successive Acquire completions for a
// given endpoint key. Endpoint keys are created lazily on first use.
type Limiter struct {
	mu          sync.Mutex
	clk         clock.Clock
	minInterval time.Duration
	perEndpoint map[string]*time.Time
	waiters     map[string]*list.List // FIFO of waiting goroutines per endpoint
}

type waitTicket struct {
	wake chan struct{}
}

func New(clk clock.Clock, minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		minInterval = 200 * time.Millisecond
	}
	return &Limiter{
		clk:         clk,
		minInterval: minInterval,
		perEndpoint: make(map[string]*time.Time),
		waiters:     make(map[string]*list.List),
	}
}

// Acquire blocks until at least MinInterval has elapsed since the last
// successful Acquire for endpoint, then atomically records the new send
// time. It respects cancel; on cancellation it returns an error without
// mutating any state (spec.md §4.2, "never fails other than by
// cancellation").
func (l *Limiter) Acquire(endpoint string, cancel <-chan struct{}) error {
	ticket := &waitTicket{wake: make(chan struct{}, 1)}

	l.mu.Lock()
	q := l.waiters[endpoint]
	if q == nil {
		q = list.New()
		l.waiters[endpoint] = q
	}
	el := q.PushBack(ticket)
	l.mu.Unlock()

	// Serialize concurrent acquirers for the same endpoint FIFO: only the
	// ticket at the front of the queue is allowed to check/wait on the
	// interval at any given time.
	for {
		l.mu.Lock()
		front := q.Front()
		isFront := front != nil && front.Value.(*waitTicket) == ticket
		l.mu.Unlock()
		if isFront {
			break
		}
		select {
		case <-ticket.wake:
		case <-cancel:
			l.mu.Lock()
			q.Remove(el)
			l.mu.Unlock()
			return ErrCancelled
		}
	}

	for {
		l.mu.Lock()
		last := l.perEndpoint[endpoint]
		now := l.clk.Now()
		var wait time.Duration
		if last != nil {
			elapsed := now.Sub(*last)
			if elapsed < l.minInterval {
				wait = l.minInterval - elapsed
			}
		}
		if wait <= 0 {
			l.perEndpoint[endpoint] = &now
			q.Remove(el)
			l.wakeNextLocked(endpoint)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.clk.Sleep(wait, cancel); err != nil {
			l.mu.Lock()
			q.Remove(el)
			l.wakeNextLocked(endpoint)
			l.mu.Unlock()
			return ErrCancelled
		}
	}
}

// wakeNextLocked signals the new front-of-queue waiter, if any. Must be
// called with l.mu held.
func (l *Limiter) wakeNextLocked(endpoint string) {
	q := l.waiters[endpoint]
	if q == nil {
		return
	}
	if front := q.Front(); front != nil {
		t := front.Value.(*waitTicket)
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}
