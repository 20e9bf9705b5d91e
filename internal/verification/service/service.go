// Package service implements challenge issuance, verification, and the
// resend policy. Stores are pure I/O; every state decision lives here.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"time"

	"civica/internal/identity"
	"civica/internal/notify"
	"civica/internal/platform/config"
	"civica/internal/platform/metrics"
	"civica/internal/verification/models"
	dErrors "civica/pkg/domain-errors"
	"civica/pkg/email"
	"civica/pkg/platform/audit"
	"civica/pkg/platform/sentinel"
	"civica/pkg/requestcontext"
)

// ChallengeStore is the subset of the challenge store the service needs.
type ChallengeStore interface {
	Put(ctx context.Context, ch *models.Challenge) error
	Get(ctx context.Context, correlationID string) (*models.Challenge, error)
	Delete(ctx context.Context, correlationID string) error
	MarkUsed(ctx context.Context, correlationID string) error
	RecordFailedAttempt(ctx context.Context, correlationID string, max int) (attempts int, deleted bool, err error)
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Service struct {
	store    ChallengeStore
	provider identity.Provider
	sender   notify.Sender
	logger   *slog.Logger
	auditor  audit.Publisher
	metrics  *metrics.Metrics
	cfg      config.VerificationConfig
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg config.VerificationConfig) Option {
	return func(s *Service) { s.cfg = cfg }
}

func New(store ChallengeStore, provider identity.Provider, sender notify.Sender, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("challenge store is required")
	}
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if sender == nil {
		return nil, errors.New("notification sender is required")
	}

	svc := &Service{
		store:    store,
		provider: provider,
		sender:   sender,
		logger:   slog.Default(),
		cfg: config.VerificationConfig{
			OTPTTL:            5 * time.Minute,
			LinkTTL:           10 * time.Minute,
			MaxAttempts:       models.MaxAttempts,
			MaxResends:        models.MaxResends,
			MinResendInterval: models.MinResendInterval,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue creates an OTP challenge for the target address or phone number and
// dispatches the code. An existing challenge under the same correlation id is
// overwritten: last issue wins.
func (s *Service) Issue(ctx context.Context, correlationID string, method models.Method, target string) (*models.Challenge, error) {
	if correlationID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "correlation id is required")
	}
	if target == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "target address is required")
	}
	if !method.Valid() || !method.UsesOTP() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "method %q cannot issue a one-time code", method)
	}

	code, err := generateOTP()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate one-time code")
	}

	now := requestcontext.Now(ctx)
	ch := &models.Challenge{
		CorrelationID: correlationID,
		Method:        method,
		Code:          code,
		Target:        target,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.OTPTTL),
	}
	if err := s.store.Put(ctx, ch); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store challenge")
	}

	s.dispatchOTP(ctx, ch)
	s.observeIssued(ctx, ch, audit.ActionChallengeIssued)
	return ch, nil
}

// IssueLink creates an email-link challenge. The identity provider mints and
// owns the secret; locally we only record the challenge shell and the
// principal id for the later verified-state lookup.
func (s *Service) IssueLink(ctx context.Context, correlationID, target, continueURL string) (*models.Challenge, error) {
	if correlationID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "correlation id is required")
	}
	if target == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "target address is required")
	}
	if parsed, err := url.Parse(continueURL); err != nil || !parsed.IsAbs() {
		// Fail fast: no provider call for a link nobody could follow back.
		return nil, dErrors.Newf(dErrors.CodeValidation, "continue URL %q is not a valid absolute URL", continueURL)
	}

	principal, err := s.ensurePlaceholderPrincipal(ctx, target)
	if err != nil {
		return nil, err
	}

	// No retry on failure: a second attempt could double-send the email.
	link, err := s.provider.IssueVerificationLink(ctx, target, continueURL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderError, "identity provider could not issue verification link")
	}

	now := requestcontext.Now(ctx)
	ch := &models.Challenge{
		CorrelationID: correlationID,
		Method:        models.MethodEmailLink,
		Target:        target,
		PrincipalID:   principal.ID,
		ContinueURL:   continueURL,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.LinkTTL),
	}
	if err := s.store.Put(ctx, ch); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store challenge")
	}

	s.dispatch(ctx, notify.LinkMessage(target, link))
	s.observeIssued(ctx, ch, audit.ActionChallengeIssued)
	return ch, nil
}

// Verify validates presented proof against the challenge. For OTP methods the
// proof is the code; for link challenges the proof is ignored and the
// identity provider's verified flag is consulted instead.
//
// Check order is part of the contract: missing, then expired (with cleanup),
// then already used, then attempts, then the comparison itself.
func (s *Service) Verify(ctx context.Context, correlationID, presentedCode string) error {
	if correlationID == "" {
		return dErrors.New(dErrors.CodeValidation, "correlation id is required")
	}

	ch, err := s.store.Get(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no verification in progress")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load challenge")
	}

	now := requestcontext.Now(ctx)
	switch ch.StateAt(now) {
	case models.StateExpired:
		// Cleanup before surfacing so the next attempt starts clean.
		if err := s.store.Delete(ctx, correlationID); err != nil {
			s.logger.Error("delete expired challenge", "correlation_id", correlationID, "error", err)
		}
		s.observeFailure(ctx, ch, audit.ActionChallengeExpired, "expired")
		return dErrors.New(dErrors.CodeExpired, "verification expired, request a new code")
	case models.StateUsed:
		return dErrors.New(dErrors.CodeAlreadyUsed, "verification already completed")
	case models.StateAttemptsExhausted:
		if err := s.store.Delete(ctx, correlationID); err != nil {
			s.logger.Error("delete exhausted challenge", "correlation_id", correlationID, "error", err)
		}
		s.observeFailure(ctx, ch, audit.ActionAttemptsExhausted, "max_attempts")
		return dErrors.New(dErrors.CodeMaxAttempts, "too many incorrect attempts, request a new code")
	}

	if ch.Method == models.MethodEmailLink {
		return s.verifyLink(ctx, ch)
	}
	return s.verifyCode(ctx, ch, presentedCode)
}

func (s *Service) verifyCode(ctx context.Context, ch *models.Challenge, presentedCode string) error {
	if presentedCode != ch.Code {
		attempts, deleted, err := s.store.RecordFailedAttempt(ctx, ch.CorrelationID, s.cfg.MaxAttempts)
		if errors.Is(err, sentinel.ErrNotFound) {
			// A concurrent verification or sweep removed the record between
			// the load and the increment; the challenge is simply gone.
			return dErrors.New(dErrors.CodeNotFound, "no verification in progress")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "record failed attempt")
		}
		if deleted {
			s.observeFailure(ctx, ch, audit.ActionAttemptsExhausted, "max_attempts")
			return dErrors.New(dErrors.CodeMaxAttempts, "too many incorrect attempts, request a new code")
		}
		s.observeFailure(ctx, ch, audit.ActionVerificationFailed, "invalid_code")
		remaining := s.cfg.MaxAttempts - attempts
		return dErrors.Newf(dErrors.CodeInvalidInput, "incorrect code, %d attempt(s) remaining", remaining)
	}

	// OTP success deletes the record outright; a replay then reads NotFound.
	if err := s.store.Delete(ctx, ch.CorrelationID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "consume challenge")
	}
	return nil
}

func (s *Service) verifyLink(ctx context.Context, ch *models.Challenge) error {
	principal, err := s.provider.GetPrincipal(ctx, ch.PrincipalID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeProviderError, "look up principal")
	}
	if !principal.Verified {
		s.observeFailure(ctx, ch, audit.ActionVerificationFailed, "link_not_confirmed")
		return dErrors.New(dErrors.CodeInvalidInput, "verification link has not been confirmed yet")
	}

	// Link success keeps a used tombstone: the provider-side token may still
	// parse, so replay detection needs the record.
	if err := s.store.MarkUsed(ctx, ch.CorrelationID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "consume challenge")
	}
	return nil
}

// Resend reissues the challenge under the resend policy: at least
// MinResendInterval since the last issuance, at most MaxResends total.
// Attempts survive a resend so resending cannot bypass the attempt limit.
func (s *Service) Resend(ctx context.Context, correlationID string) (*models.Challenge, error) {
	if correlationID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "correlation id is required")
	}

	ch, err := s.store.Get(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no verification in progress")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load challenge")
	}

	now := requestcontext.Now(ctx)
	if wait := ch.ResendWaitAt(now); wait > 0 {
		waitSeconds := int(wait.Round(time.Second).Seconds())
		s.observeResendDenied(ctx, ch, fmt.Sprintf("wait %ds", waitSeconds))
		return nil, dErrors.NewRetryAfter(dErrors.CodeTooManyRequests,
			fmt.Sprintf("please wait %d seconds before requesting another code", waitSeconds), waitSeconds)
	}
	if ch.ResendCount >= s.cfg.MaxResends {
		s.observeResendDenied(ctx, ch, "resend limit reached")
		return nil, dErrors.New(dErrors.CodeTooManyRequests,
			"resend limit reached, start the verification again")
	}

	reissued := *ch
	reissued.CreatedAt = now
	reissued.ResendCount = ch.ResendCount + 1
	reissued.Used = false

	var message notify.Message
	if ch.Method.UsesOTP() {
		code, err := generateOTP()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate one-time code")
		}
		reissued.Code = code
		reissued.ExpiresAt = now.Add(s.cfg.OTPTTL)
		message = notify.OTPMessage(channelFor(ch.Method), ch.Target, code)
	} else {
		link, err := s.provider.IssueVerificationLink(ctx, ch.Target, ch.ContinueURL)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeProviderError, "identity provider could not issue verification link")
		}
		reissued.ExpiresAt = now.Add(s.cfg.LinkTTL)
		message = notify.LinkMessage(ch.Target, link)
	}

	if err := s.store.Put(ctx, &reissued); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store challenge")
	}

	s.dispatch(ctx, message)
	s.observeIssued(ctx, &reissued, audit.ActionChallengeResent)
	return &reissued, nil
}

// SweepExpired deletes challenges past their expiry. Returns the correlation
// ids removed so callers can clean up paired registrations.
func (s *Service) SweepExpired(ctx context.Context) ([]string, error) {
	removed, err := s.store.DeleteExpired(ctx, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sweep expired challenges")
	}
	if len(removed) > 0 {
		s.logger.Info("swept expired challenges", "count", len(removed))
	}
	return removed, nil
}

func (s *Service) ensurePlaceholderPrincipal(ctx context.Context, target string) (*identity.Principal, error) {
	principal, err := s.provider.FindPrincipalByAddress(ctx, target)
	if err == nil {
		return principal, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderError, "look up principal")
	}

	// Placeholder stays disabled until materialization completes.
	first, last := email.DeriveNameFromAddress(target)
	principal, err = s.provider.CreatePrincipal(ctx, target, identity.PrincipalAttrs{
		DisplayName: identity.String(first + " " + last),
		Disabled:    identity.Bool(true),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderError, "create placeholder principal")
	}
	return principal, nil
}

func (s *Service) dispatchOTP(ctx context.Context, ch *models.Challenge) {
	s.dispatch(ctx, notify.OTPMessage(channelFor(ch.Method), ch.Target, ch.Code))
}

// dispatch is fire-and-forget: delivery failure is logged, never returned.
// The resident can always request a resend.
func (s *Service) dispatch(ctx context.Context, msg notify.Message) {
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Error("notification delivery failed",
			"channel", string(msg.Channel),
			"target", msg.Target,
			"error", err,
		)
	}
}

func (s *Service) observeIssued(ctx context.Context, ch *models.Challenge, action audit.Action) {
	if s.metrics != nil {
		s.metrics.ChallengesIssued.WithLabelValues(string(ch.Method)).Inc()
	}
	s.emit(ctx, audit.Event{
		Category:      audit.CategoryOperations,
		Action:        action,
		CorrelationID: ch.CorrelationID,
		Target:        ch.Target,
	})
}

func (s *Service) observeFailure(ctx context.Context, ch *models.Challenge, action audit.Action, reason string) {
	if s.metrics != nil {
		s.metrics.VerificationFailures.WithLabelValues(reason).Inc()
	}
	s.emit(ctx, audit.Event{
		Category:      audit.CategorySecurity,
		Action:        action,
		CorrelationID: ch.CorrelationID,
		Target:        ch.Target,
		Reason:        reason,
	})
}

func (s *Service) observeResendDenied(ctx context.Context, ch *models.Challenge, reason string) {
	if s.metrics != nil {
		s.metrics.ResendsDenied.Inc()
	}
	s.emit(ctx, audit.Event{
		Category:      audit.CategorySecurity,
		Action:        audit.ActionResendDenied,
		CorrelationID: ch.CorrelationID,
		Target:        ch.Target,
		Reason:        reason,
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.Error("audit emit failed", "action", string(event.Action), "error", err)
	}
}

func channelFor(method models.Method) notify.Channel {
	if method == models.MethodPhone {
		return notify.ChannelSMS
	}
	return notify.ChannelEmail
}

// generateOTP returns a uniformly random zero-padded 6-digit code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
