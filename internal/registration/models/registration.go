package models

import "time"

// CurrentSchemaVersion tags the PendingRegistration shape. Older snapshots
// written before a field change keep their version so the materializer can
// map them explicitly instead of sniffing which fields happen to be present.
const CurrentSchemaVersion = 1

// PendingRegistration is the ephemeral snapshot of signup-form data, keyed by
// the caller-generated correlation id it shares with its verification
// challenge. Created on the first signup step, consumed and deleted exactly
// once by the account materializer, never mutated in between.
//
// Invariant: a pending registration must not outlive its challenge; the
// sweeper removes both together.
type PendingRegistration struct {
	SchemaVersion int
	CorrelationID string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	PasswordHash  string
	AddressLine   string
	Barangay      string
	City          string
	CreatedAt     time.Time
}
