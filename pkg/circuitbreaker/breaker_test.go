package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("primary", true, threshold, 5*time.Second, 15*time.Second, nil).WithClock(clock.Now)
	return cb, clock
}

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	state := cb.GetState()
	assert.Equal(t, "primary", state.Name)
	assert.True(t, state.Open)
	assert.Equal(t, 3, state.FailureCount)
}

func TestCircuitBreakerWindowExpiry(t *testing.T) {
	cb, clock := newTestBreaker(2)

	assert.False(t, cb.RecordFailure())
	clock.Advance(6 * time.Second)
	assert.False(t, cb.RecordFailure(), "failure outside the window should start a new count")
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerHalfOpenAfterReset(t *testing.T) {
	cb, clock := newTestBreaker(1)

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	clock.Advance(10 * time.Second)
	assert.True(t, cb.IsOpen())

	clock.Advance(6 * time.Second)
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerSuccessClearsCount(t *testing.T) {
	cb, _ := newTestBreaker(2)

	assert.False(t, cb.RecordFailure())
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerManualReset(t *testing.T) {
	cb, _ := newTestBreaker(1)

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker("primary", false, 1, time.Second, time.Second, nil)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
	assert.False(t, cb.IsEnabled())
}
