package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dataparency-dev/tenderwatch/internal/breaker"
)

func TestAllowClosedByDefault(t *testing.T) {
	r := breaker.New(3, time.Minute)
	assert.True(t, r.Allow("sub-1"))
}

func TestRecordFailureTripsAtThreshold(t *testing.T) {
	r := breaker.New(2, time.Minute)
	assert.False(t, r.RecordFailure("sub-1"))
	assert.True(t, r.RecordFailure("sub-1"))
	assert.Equal(t, breaker.Open, r.StateOf("sub-1"))
	assert.False(t, r.Allow("sub-1"))
}

func TestRecordSuccessResetsBreaker(t *testing.T) {
	r := breaker.New(2, time.Minute)
	r.RecordFailure("sub-1")
	r.RecordSuccess("sub-1")
	assert.Equal(t, breaker.Closed, r.StateOf("sub-1"))
	assert.True(t, r.Allow("sub-1"))
}

func TestHalfOpenProbeRetripsOnFailure(t *testing.T) {
	r := breaker.New(1, -time.Second) // cooldown already elapsed
	r.RecordFailure("sub-1")
	assert.Equal(t, breaker.Open, r.StateOf("sub-1"))

	assert.True(t, r.Allow("sub-1")) // cooldown elapsed, probe allowed
	assert.Equal(t, breaker.HalfOpen, r.StateOf("sub-1"))

	r.RecordFailure("sub-1")
	assert.Equal(t, breaker.Open, r.StateOf("sub-1"))
}

func TestBreakersAreIndependentPerSubscriber(t *testing.T) {
	r := breaker.New(1, time.Minute)
	r.RecordFailure("sub-1")
	assert.False(t, r.Allow("sub-1"))
	assert.True(t, r.Allow("sub-2"))
}
