// Package service materializes verified registrations into durable resident
// accounts.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civica/internal/identity"
	"civica/internal/platform/metrics"
	regmodels "civica/internal/registration/models"
	"civica/internal/resident/models"
	"civica/internal/sequence"
	dErrors "civica/pkg/domain-errors"
	"civica/pkg/platform/audit"
	"civica/pkg/platform/sentinel"
	"civica/pkg/requestcontext"
)

// ChallengeValidator is the slice of the verification service the
// materializer needs: consume-on-success proof validation plus final cleanup.
type ChallengeValidator interface {
	Verify(ctx context.Context, correlationID, presentedProof string) error
}

// ChallengeCleaner deletes the challenge record after a successful
// materialization. Separate from ChallengeValidator because validation
// already consumes OTP records; only link tombstones remain to clean.
type ChallengeCleaner interface {
	Delete(ctx context.Context, correlationID string) error
}

// RegistrationStore is the pending-registration access the materializer needs.
type RegistrationStore interface {
	Get(ctx context.Context, correlationID string) (*regmodels.PendingRegistration, error)
	Delete(ctx context.Context, correlationID string) error
}

// AccountStore persists the durable outcome.
type AccountStore interface {
	Create(ctx context.Context, account *models.ResidentAccount) error
	Get(ctx context.Context, residentID string) (*models.ResidentAccount, error)
}

// Materializer drives the transition from pending, unverified registration
// data to a durable verified account:
//
//	validate challenge -> allocate id -> finalize principal -> persist -> clean up
//
// Steps after validation are not one cross-store transaction: the identity
// provider cannot participate in the datastore's transaction. The ordering
// confines a late failure to a wasted id (gaps are permitted) or an orphaned
// principal (rolled back once, best effort, and reported for reconciliation).
type Materializer struct {
	verifier      ChallengeValidator
	challenges    ChallengeCleaner
	registrations RegistrationStore
	accounts      AccountStore
	allocator     *sequence.Allocator
	provider      identity.Provider
	logger        *slog.Logger
	auditor       audit.Publisher
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

type Option func(*Materializer)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) { m.logger = logger }
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(m *Materializer) { m.auditor = publisher }
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Materializer) { m.metrics = mx }
}

func NewMaterializer(
	verifier ChallengeValidator,
	challenges ChallengeCleaner,
	registrations RegistrationStore,
	accounts AccountStore,
	allocator *sequence.Allocator,
	provider identity.Provider,
	opts ...Option,
) (*Materializer, error) {
	if verifier == nil || challenges == nil || registrations == nil || accounts == nil {
		return nil, errors.New("all stores are required")
	}
	if allocator == nil {
		return nil, errors.New("sequence allocator is required")
	}
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}

	m := &Materializer{
		verifier:      verifier,
		challenges:    challenges,
		registrations: registrations,
		accounts:      accounts,
		allocator:     allocator,
		provider:      provider,
		logger:        slog.Default(),
		tracer:        otel.Tracer("civica/resident"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Materialize turns the pending registration behind correlationID into a
// resident account, provided the presented proof validates. Replays after
// success fail in step one: validation consumed the challenge.
func (m *Materializer) Materialize(ctx context.Context, correlationID, presentedProof string) (*models.ResidentAccount, error) {
	ctx, span := m.tracer.Start(ctx, "materialize",
		trace.WithAttributes(attribute.String("correlation_id", correlationID)))
	defer span.End()

	account, err := m.materialize(ctx, correlationID, presentedProof)
	if err != nil {
		span.SetStatus(otelcodes.Error, string(dErrors.CodeOf(err)))
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("resident_id", account.ResidentID))
	return account, nil
}

func (m *Materializer) materialize(ctx context.Context, correlationID, presentedProof string) (*models.ResidentAccount, error) {
	// Step 1: validate. Any rejection aborts before side effects.
	if err := m.verifier.Verify(ctx, correlationID, presentedProof); err != nil {
		return nil, err
	}

	// Step 2: a valid challenge whose paired registration vanished means the
	// transient state was corrupted; no retry can fix that.
	reg, err := m.registrations.Get(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			m.logger.Error("registration data missing for valid challenge", "correlation_id", correlationID)
			return nil, dErrors.New(dErrors.CodeCorruption, "registration data not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load pending registration")
	}

	// Step 3: allocate first; an unused id is the cheapest partial outcome.
	n, err := m.allocator.Next(ctx, sequence.SeriesResidents)
	if err != nil {
		m.emit(ctx, audit.Event{
			Category:      audit.CategoryOperations,
			Action:        audit.ActionSequenceExhausted,
			CorrelationID: correlationID,
		})
		return nil, err
	}
	residentID := sequence.FormatResidentID(n)

	// Step 4: create or finalize the principal.
	principal, created, err := m.finalizePrincipal(ctx, reg)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	account := &models.ResidentAccount{
		ResidentID:  residentID,
		PrincipalID: principal.ID,
		FirstName:   reg.FirstName,
		LastName:    reg.LastName,
		Email:       reg.Email,
		Phone:       reg.Phone,
		AddressLine: reg.AddressLine,
		Barangay:    reg.Barangay,
		City:        reg.City,
		Status:      models.StatusPendingVerification,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Step 5: persist. On failure, unwind the principal we just created so it
	// is not stranded without an account; one attempt, best effort.
	if err := m.accounts.Create(ctx, account); err != nil {
		m.rollbackPrincipal(ctx, principal, created, correlationID)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "resident account already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist resident account")
	}

	// Step 6: cleanup. The account exists; a failure here only leaks
	// transient records the sweeper will catch, so log and continue.
	if err := m.registrations.Delete(ctx, correlationID); err != nil {
		m.logger.Error("cleanup: delete pending registration", "correlation_id", correlationID, "error", err)
	}
	if err := m.challenges.Delete(ctx, correlationID); err != nil {
		m.logger.Error("cleanup: delete challenge", "correlation_id", correlationID, "error", err)
	}

	if m.metrics != nil {
		m.metrics.AccountsMaterialized.Inc()
	}
	m.emit(ctx, audit.Event{
		Category:      audit.CategoryOperations,
		Action:        audit.ActionAccountMaterialized,
		CorrelationID: correlationID,
		Target:        reg.Email,
		PrincipalID:   principal.ID,
		ResidentID:    residentID,
	})
	m.logger.Info("resident account materialized",
		"correlation_id", correlationID,
		"resident_id", residentID,
	)
	return account, nil
}

// finalizePrincipal makes the identity-provider principal durable: verified,
// enabled, carrying the registration's display name and credential. Returns
// whether this call created the principal (and so owns its rollback).
func (m *Materializer) finalizePrincipal(ctx context.Context, reg *regmodels.PendingRegistration) (*identity.Principal, bool, error) {
	attrs := identity.PrincipalAttrs{
		DisplayName:  identity.String(reg.FirstName + " " + reg.LastName),
		PasswordHash: identity.String(reg.PasswordHash),
		Verified:     identity.Bool(true),
		Disabled:     identity.Bool(false),
	}

	principal, err := m.provider.FindPrincipalByAddress(ctx, reg.Email)
	switch {
	case err == nil:
		if err := m.provider.UpdatePrincipal(ctx, principal.ID, attrs); err != nil {
			return nil, false, dErrors.Wrap(err, dErrors.CodeProviderError, "finalize principal")
		}
		return principal, false, nil
	case errors.Is(err, sentinel.ErrNotFound):
		principal, err := m.provider.CreatePrincipal(ctx, reg.Email, attrs)
		if err != nil {
			return nil, false, dErrors.Wrap(err, dErrors.CodeProviderError, "create principal")
		}
		return principal, true, nil
	default:
		return nil, false, dErrors.Wrap(err, dErrors.CodeProviderError, "look up principal")
	}
}

// rollbackPrincipal attempts to remove a principal created during this
// materialization. Pre-existing principals (link-flow placeholders) are left
// alone. Either way the orphan is reported for operator reconciliation.
func (m *Materializer) rollbackPrincipal(ctx context.Context, principal *identity.Principal, created bool, correlationID string) {
	rolledBack := false
	if created {
		if err := m.provider.DeletePrincipal(ctx, principal.ID); err != nil {
			m.logger.Error("principal rollback failed",
				"principal_id", principal.ID,
				"correlation_id", correlationID,
				"error", err,
			)
		} else {
			rolledBack = true
		}
	}
	if rolledBack {
		return
	}

	if m.metrics != nil {
		m.metrics.PrincipalsOrphaned.Inc()
	}
	m.emit(ctx, audit.Event{
		Category:      audit.CategoryReconciliation,
		Action:        audit.ActionPrincipalOrphaned,
		CorrelationID: correlationID,
		Target:        principal.Address,
		PrincipalID:   principal.ID,
		Reason:        "account persist failed after principal finalization",
	})
}

func (m *Materializer) emit(ctx context.Context, event audit.Event) {
	if m.auditor == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := m.auditor.Emit(ctx, event); err != nil {
		m.logger.Error("audit emit failed", "action", string(event.Action), "error", err)
	}
}
