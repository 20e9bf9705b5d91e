// Package throttle guards the verification endpoints with a per-client
// sliding-window request limit. This is the inbound abuse guard; the
// per-correlation-id resend pacing lives in the verification service.
package throttle

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long a denied caller should wait. Zero when allowed.
	RetryAfter time.Duration
}

// Store admits or denies one request for a client key. Implementations must
// count the request when admitting it.
type Store interface {
	Allow(ctx context.Context, key string) (*Decision, error)
}
