// Package audit captures security- and operations-relevant actions from the
// provisioning pipeline. Events are transport-agnostic; sinks (Kafka, slog)
// fan them out.
package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategorySecurity covers events relevant to abuse monitoring and
	// forensics: failed verifications, exhausted attempts, denied resends.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility: challenges issued, accounts materialized, ids allocated.
	CategoryOperations EventCategory = "operations"

	// CategoryReconciliation covers events an operator must act on, such as
	// an identity-provider principal left orphaned by a late failure during
	// account materialization.
	CategoryReconciliation EventCategory = "reconciliation"
)

// Action names a thing that happened. Stable strings: dashboards and alert
// rules match on them.
type Action string

const (
	ActionChallengeIssued     Action = "challenge_issued"
	ActionChallengeResent     Action = "challenge_resent"
	ActionResendDenied        Action = "resend_denied"
	ActionVerificationFailed  Action = "verification_failed"
	ActionAttemptsExhausted   Action = "attempts_exhausted"
	ActionChallengeExpired    Action = "challenge_expired"
	ActionAccountMaterialized Action = "account_materialized"
	ActionPrincipalOrphaned   Action = "principal_orphaned"
	ActionSequenceExhausted   Action = "sequence_exhausted"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Category      EventCategory
	Action        Action
	Timestamp     time.Time
	CorrelationID string
	// Target is the contact address the event concerns. Sinks with PII
	// constraints may hash or drop it.
	Target string
	// PrincipalID references the identity-provider principal when one is
	// involved (orphan reconciliation needs it to find the stray record).
	PrincipalID string
	ResidentID  string
	Reason      string
	RequestID   string
}

// Publisher emits audit events for security-relevant operations.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}
