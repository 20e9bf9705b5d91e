package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseChallenge(now time.Time) *Challenge {
	return &Challenge{
		CorrelationID: "T1",
		Method:        MethodEmailOTP,
		Code:          "123456",
		Target:        "alice@example.com",
		CreatedAt:     now,
		ExpiresAt:     now.Add(5 * time.Minute),
	}
}

func TestChallenge_StateAt(t *testing.T) {
	now := time.Now()

	t.Run("fresh challenge is active", func(t *testing.T) {
		assert.Equal(t, StateActive, baseChallenge(now).StateAt(now))
	})

	t.Run("expiry is absolute wall clock", func(t *testing.T) {
		c := baseChallenge(now)
		assert.Equal(t, StateExpired, c.StateAt(now.Add(5*time.Minute+time.Second)))
	})

	t.Run("expiry wins over used", func(t *testing.T) {
		c := baseChallenge(now)
		c.Used = true
		assert.Equal(t, StateExpired, c.StateAt(now.Add(time.Hour)))
	})

	t.Run("used is terminal", func(t *testing.T) {
		c := baseChallenge(now)
		c.Used = true
		assert.Equal(t, StateUsed, c.StateAt(now))
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		c := baseChallenge(now)
		c.Attempts = MaxAttempts
		assert.Equal(t, StateAttemptsExhausted, c.StateAt(now))
	})
}

func TestChallenge_ResendWaitAt(t *testing.T) {
	now := time.Now()
	c := baseChallenge(now)

	assert.Equal(t, 20*time.Second, c.ResendWaitAt(now.Add(10*time.Second)))
	assert.Equal(t, time.Duration(0), c.ResendWaitAt(now.Add(31*time.Second)))
}

func TestChallenge_RemainingCounts(t *testing.T) {
	now := time.Now()
	c := baseChallenge(now)

	assert.Equal(t, 3, c.RemainingAttempts())
	c.Attempts = 2
	assert.Equal(t, 1, c.RemainingAttempts())
	c.Attempts = 5
	assert.Equal(t, 0, c.RemainingAttempts())

	assert.Equal(t, 5, c.RemainingResends())
	c.ResendCount = 5
	assert.Equal(t, 0, c.RemainingResends())
}

func TestMethod_Valid(t *testing.T) {
	assert.True(t, MethodEmailOTP.Valid())
	assert.True(t, MethodEmailLink.Valid())
	assert.True(t, MethodPhone.Valid())
	assert.False(t, Method("carrier-pigeon").Valid())
}
