package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedrelay/internal/model"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, ResetTimeout: 50 * time.Millisecond}, nil)

	for i := 0; i < 3; i++ {
		permit, onResult := r.Allow("ep")
		require.True(t, permit)
		onResult(false)
	}

	assert.Equal(t, model.BreakerOpen, r.State("ep"))
	permit, _ := r.Allow("ep")
	assert.False(t, permit, "breaker should fail fast once open")
}

func TestBreakerHalfOpenSingleProbeThenClose(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: 30 * time.Millisecond}, nil)

	permit, onResult := r.Allow("ep")
	require.True(t, permit)
	onResult(false)
	permit, onResult = r.Allow("ep")
	require.True(t, permit)
	onResult(false)
	require.Equal(t, model.BreakerOpen, r.State("ep"))

	time.Sleep(40 * time.Millisecond)

	// Exactly one probe is allowed in half-open.
	permit1, done1 := r.Allow("ep")
	permit2, _ := r.Allow("ep")
	require.True(t, permit1)
	assert.False(t, permit2, "a second concurrent half-open probe must be denied")

	done1(true)
	assert.Equal(t, model.BreakerClosed, r.State("ep"))
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond}, nil)

	permit, onResult := r.Allow("ep")
	require.True(t, permit)
	onResult(false)
	require.Equal(t, model.BreakerOpen, r.State("ep"))

	time.Sleep(30 * time.Millisecond)
	permit, onResult = r.Allow("ep")
	require.True(t, permit)
	onResult(false)

	assert.Equal(t, model.BreakerOpen, r.State("ep"))
}

func TestSuccessInClosedResetsCounter(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: time.Second}, nil)

	permit, onResult := r.Allow("ep")
	require.True(t, permit)
	onResult(false)

	permit, onResult = r.Allow("ep")
	require.True(t, permit)
	onResult(true)

	// One more failure alone should not trip a threshold-2 breaker since the
	// consecutive counter was reset by the intervening success.
	permit, onResult = r.Allow("ep")
	require.True(t, permit)
	onResult(false)
	assert.Equal(t, model.BreakerClosed, r.State("ep"))
}

func TestEndpointsAreIndependent(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Second}, nil)

	permit, onResult := r.Allow("ep-a")
	require.True(t, permit)
	onResult(false)
	assert.Equal(t, model.BreakerOpen, r.State("ep-a"))
	assert.Equal(t, model.BreakerClosed, r.State("ep-b"))
}
