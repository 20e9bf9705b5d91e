package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the provisioning pipeline.
type Metrics struct {
	ChallengesIssued     *prometheus.CounterVec
	VerificationFailures *prometheus.CounterVec
	ResendsDenied        prometheus.Counter
	AccountsMaterialized prometheus.Counter
	SequenceConflicts    prometheus.Counter
	PrincipalsOrphaned   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ChallengesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civica_verification_challenges_issued_total",
			Help: "Verification challenges issued, by method",
		}, []string{"method"}),
		VerificationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civica_verification_failures_total",
			Help: "Failed verification attempts, by reason",
		}, []string{"reason"}),
		ResendsDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civica_verification_resends_denied_total",
			Help: "Resend requests denied by the rate limit policy",
		}),
		AccountsMaterialized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civica_resident_accounts_materialized_total",
			Help: "Resident accounts created from verified registrations",
		}),
		SequenceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civica_sequence_allocation_conflicts_total",
			Help: "Sequence allocator transaction conflicts that triggered a retry",
		}),
		PrincipalsOrphaned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civica_identity_principals_orphaned_total",
			Help: "Identity-provider principals left for manual reconciliation",
		}),
	}
}
