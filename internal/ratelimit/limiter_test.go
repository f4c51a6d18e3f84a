package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedrelay/internal/clock"
)

func TestAcquireEnforcesMinInterval(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	l := New(fc, 200*time.Millisecond)

	require.NoError(t, l.Acquire("ep1", nil))

	done := make(chan error, 1)
	go func() { done <- l.Acquire("ep1", nil) }()

	// Give the goroutine a moment to block on the interval.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second Acquire should not complete before the interval elapses")
	default:
	}

	fc.Advance(200 * time.Millisecond)
	require.NoError(t, <-done)
}

func TestAcquireFIFOFairness(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	l := New(fc, 10*time.Millisecond)
	require.NoError(t, l.Acquire("ep", nil))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, l.Acquire("ep", nil))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		time.Sleep(5 * time.Millisecond) // establish arrival order
	}

	for i := 0; i < 5; i++ {
		fc.Advance(10 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestAcquireCancellationLeavesStateUntouched(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	l := New(fc, time.Hour)
	require.NoError(t, l.Acquire("ep", nil))

	cancel := make(chan struct{})
	close(cancel)
	err := l.Acquire("ep", cancel)
	assert.ErrorIs(t, err, ErrCancelled)
}
