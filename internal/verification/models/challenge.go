package models

import "time"

// Method identifies how a resident proves possession of a contact address.
type Method string

const (
	MethodEmailOTP  Method = "email-otp"
	MethodEmailLink Method = "email-link"
	MethodPhone     Method = "phone"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodEmailOTP, MethodEmailLink, MethodPhone:
		return true
	}
	return false
}

// UsesOTP reports whether the method carries a locally stored code. Link
// challenges store no secret; the identity provider holds it.
func (m Method) UsesOTP() bool {
	return m == MethodEmailOTP || m == MethodPhone
}

// Policy limits. These are invariants of the data model, not tunables:
// stores enforce MaxAttempts atomically.
const (
	MaxAttempts       = 3
	MaxResends        = 5
	MinResendInterval = 30 * time.Second
)

// State is the explicit lifecycle state of a challenge, derived from the
// record rather than stored, so there is a single source of truth.
type State string

const (
	StateActive            State = "active"
	StateExpired           State = "expired"
	StateUsed              State = "used"
	StateAttemptsExhausted State = "attempts_exhausted"
)

// Challenge is an outstanding proof-of-possession requirement, keyed by the
// caller-supplied correlation id shared with its PendingRegistration.
type Challenge struct {
	CorrelationID string
	Method        Method
	// Code is the OTP secret; empty for link challenges.
	Code   string
	Target string
	// PrincipalID references the identity-provider principal allocated at
	// link issuance, for later verified-state lookup.
	PrincipalID string
	// ContinueURL is the portal URL a link challenge returns to; kept so a
	// resend can mint a fresh link with the same destination.
	ContinueURL string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	ResendCount int
	Used        bool
}

// StateAt derives the lifecycle state at the given instant. Check order
// matches the verification contract: expiry wins over used, used wins over
// exhaustion.
func (c *Challenge) StateAt(now time.Time) State {
	if now.After(c.ExpiresAt) {
		return StateExpired
	}
	if c.Used {
		return StateUsed
	}
	if c.Attempts >= MaxAttempts {
		return StateAttemptsExhausted
	}
	return StateActive
}

// RemainingAttempts returns how many wrong codes may still be presented.
func (c *Challenge) RemainingAttempts() int {
	remaining := MaxAttempts - c.Attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResendWaitAt returns how long the caller must still wait before a resend,
// measured against the most recent issuance. Zero means no wait.
func (c *Challenge) ResendWaitAt(now time.Time) time.Duration {
	wait := MinResendInterval - now.Sub(c.CreatedAt)
	if wait < 0 {
		return 0
	}
	return wait
}

// RemainingResends returns how many resends the policy still permits.
func (c *Challenge) RemainingResends() int {
	remaining := MaxResends - c.ResendCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
