package degrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	c := New(3)
	assert.False(t, c.RecordSendFailure())
	assert.False(t, c.RecordSendFailure())
	assert.True(t, c.RecordSendFailure())
	assert.True(t, c.Degraded())
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	c := New(2)
	c.RecordSendFailure()
	c.RecordSendSuccess()
	assert.False(t, c.RecordSendFailure())
	assert.False(t, c.Degraded())
}

func TestTripIsImmediateAndKeepsFirstReason(t *testing.T) {
	c := New(3)
	c.Trip("subscription open failed")
	c.Trip("later error")
	assert.True(t, c.Degraded())
	assert.Equal(t, "subscription open failed", c.Reason())
}

func TestResetReturnsToLive(t *testing.T) {
	c := New(1)
	c.RecordSendFailure()
	assert.True(t, c.Degraded())

	c.Reset()
	assert.False(t, c.Degraded())
	assert.Empty(t, c.Reason())
	assert.Zero(t, c.consecutive, "counter restarts with the latch")
}

func TestSuccessDoesNotLeaveDegradedMode(t *testing.T) {
	c := New(1)
	c.RecordSendFailure()
	c.RecordSendSuccess()
	assert.True(t, c.Degraded(), "only Reset leaves degraded mode")
}
