package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civica/internal/identity/local"
	"civica/internal/notify"
	"civica/internal/verification/models"
	"civica/internal/verification/store/challenge"
	dErrors "civica/pkg/domain-errors"
	"civica/pkg/platform/sentinel"
	"civica/pkg/requestcontext"
)

// recordingSender captures dispatched messages instead of delivering them.
type recordingSender struct {
	messages []notify.Message
	fail     bool
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) error {
	if r.fail {
		return context.DeadlineExceeded
	}
	r.messages = append(r.messages, msg)
	return nil
}

type ServiceSuite struct {
	suite.Suite
	store    *challenge.Memory
	provider *local.Provider
	sender   *recordingSender
	svc      *Service
	now      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = challenge.NewMemory()
	s.provider = local.New("test-signing-key")
	s.sender = &recordingSender{}
	svc, err := New(s.store, s.provider, s.sender)
	s.Require().NoError(err)
	s.svc = svc
	s.now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
}

// ctxAt pins the request clock so expiry and spacing checks are exact.
func (s *ServiceSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ServiceSuite) TestIssue_CreatesActiveChallenge() {
	ch, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	s.Len(ch.Code, 6)
	s.Equal(s.now.Add(5*time.Minute), ch.ExpiresAt)
	s.Equal(0, ch.Attempts)
	s.Equal(0, ch.ResendCount)
	s.False(ch.Used)

	s.Require().Len(s.sender.messages, 1)
	s.Equal(notify.ChannelEmail, s.sender.messages[0].Channel)
	s.Contains(s.sender.messages[0].Body, ch.Code)
}

func (s *ServiceSuite) TestIssue_PhoneGoesOverSMS() {
	_, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodPhone, "+15551234567")
	s.Require().NoError(err)
	s.Require().Len(s.sender.messages, 1)
	s.Equal(notify.ChannelSMS, s.sender.messages[0].Channel)
}

func (s *ServiceSuite) TestIssue_ValidationFailures() {
	ctx := s.ctxAt(s.now)

	_, err := s.svc.Issue(ctx, "", models.MethodEmailOTP, "alice@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.Issue(ctx, "T1", models.MethodEmailOTP, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.Issue(ctx, "T1", models.MethodEmailLink, "alice@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestIssue_LastIssueWins() {
	ctx := s.ctxAt(s.now)
	first, err := s.svc.Issue(ctx, "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	second, err := s.svc.Issue(s.ctxAt(s.now.Add(time.Minute)), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	// The first code no longer verifies unless it randomly collided.
	if first.Code != second.Code {
		err = s.svc.Verify(s.ctxAt(s.now.Add(2*time.Minute)), "T1", first.Code)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}
	err = s.svc.Verify(s.ctxAt(s.now.Add(3*time.Minute)), "T1", second.Code)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestIssue_DeliveryFailureDoesNotFailIssuance() {
	s.sender.fail = true
	_, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestVerify_CorrectCodeConsumesChallenge() {
	ch, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Verify(s.ctxAt(s.now.Add(time.Minute)), "T1", ch.Code))

	// Replay after success: the record is gone.
	err = s.svc.Verify(s.ctxAt(s.now.Add(time.Minute)), "T1", ch.Code)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestVerify_UnknownCorrelationID() {
	err := s.svc.Verify(s.ctxAt(s.now), "ghost", "123456")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestVerify_ExpiredChallengeIsDeleted() {
	_, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	late := s.now.Add(5*time.Minute + time.Second)
	err = s.svc.Verify(s.ctxAt(late), "T1", "000000")
	s.True(dErrors.HasCode(err, dErrors.CodeExpired))

	// Record cleaned up: the next probe sees nothing, not "expired" again.
	err = s.svc.Verify(s.ctxAt(late), "T1", "000000")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// Wrong code three times exhausts the challenge; the fourth submission, even
// with the correct code, finds nothing.
func (s *ServiceSuite) TestVerify_AttemptExhaustionScenario() {
	ch, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)
	ctx := s.ctxAt(s.now.Add(time.Minute))

	wrong := "000000"
	if wrong == ch.Code {
		wrong = "000001"
	}

	err = s.svc.Verify(ctx, "T1", wrong)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Contains(err.Error(), "2 attempt(s) remaining")

	err = s.svc.Verify(ctx, "T1", wrong)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	err = s.svc.Verify(ctx, "T1", wrong)
	s.True(dErrors.HasCode(err, dErrors.CodeMaxAttempts))

	err = s.svc.Verify(ctx, "T1", ch.Code)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// vanishingStore emulates a concurrent consumer: the record is present for
// the load but gone by the time the failed attempt is recorded.
type vanishingStore struct {
	*challenge.Memory
}

func (v *vanishingStore) RecordFailedAttempt(context.Context, string, int) (int, bool, error) {
	return 0, false, sentinel.ErrNotFound
}

func (s *ServiceSuite) TestVerify_RecordVanishedDuringFailedAttempt() {
	svc, err := New(&vanishingStore{Memory: s.store}, s.provider, s.sender)
	s.Require().NoError(err)

	ch, err := svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	wrong := "000000"
	if wrong == ch.Code {
		wrong = "000001"
	}

	// The challenge is gone, not "attempts remaining" on a phantom record.
	err = svc.Verify(s.ctxAt(s.now.Add(time.Minute)), "T1", wrong)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.NotContains(err.Error(), "remaining")
}

func (s *ServiceSuite) TestIssueLink_CreatesDisabledPlaceholderPrincipal() {
	ch, err := s.svc.IssueLink(s.ctxAt(s.now), "T1", "bob@example.com", "https://portal.example.com/verify")
	s.Require().NoError(err)

	s.Equal(models.MethodEmailLink, ch.Method)
	s.Empty(ch.Code)
	s.NotEmpty(ch.PrincipalID)
	s.Equal(s.now.Add(10*time.Minute), ch.ExpiresAt)

	principal, err := s.provider.GetPrincipal(context.Background(), ch.PrincipalID)
	s.Require().NoError(err)
	s.True(principal.Disabled)
	s.False(principal.Verified)

	s.Require().Len(s.sender.messages, 1)
	s.Contains(s.sender.messages[0].Body, "oobToken=")
}

func (s *ServiceSuite) TestIssueLink_InvalidContinueURLFailsFast() {
	_, err := s.svc.IssueLink(s.ctxAt(s.now), "T1", "bob@example.com", "not a url")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.IssueLink(s.ctxAt(s.now), "T1", "bob@example.com", "/relative")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	// Fail-fast means no principal was created and nothing was sent.
	s.Empty(s.sender.messages)
}

func (s *ServiceSuite) TestVerifyLink_RequiresProviderConfirmation() {
	ch, err := s.svc.IssueLink(s.ctxAt(s.now), "T1", "bob@example.com", "https://portal.example.com/verify")
	s.Require().NoError(err)
	ctx := s.ctxAt(s.now.Add(time.Minute))

	err = s.svc.Verify(ctx, "T1", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	s.redeemLastLink()

	s.Require().NoError(s.svc.Verify(ctx, "T1", ""))

	// Link success leaves a used tombstone; replay reads AlreadyUsed.
	err = s.svc.Verify(ctx, "T1", "")
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyUsed))
	_ = ch
}

func (s *ServiceSuite) TestResend_SpacingEnforced() {
	_, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	// 10s later: denied with ~20s of wait left.
	_, err = s.svc.Resend(s.ctxAt(s.now.Add(10 * time.Second)), "T1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTooManyRequests))
	s.Equal(20, dErrors.RetryAfter(err))

	// 31s later: allowed.
	reissued, err := s.svc.Resend(s.ctxAt(s.now.Add(31*time.Second)), "T1")
	s.Require().NoError(err)
	s.Equal(1, reissued.ResendCount)

	// Another 31s after the resend: allowed again.
	again, err := s.svc.Resend(s.ctxAt(s.now.Add(62*time.Second)), "T1")
	s.Require().NoError(err)
	s.Equal(2, again.ResendCount)
}

func (s *ServiceSuite) TestResend_CountLimit() {
	_, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	at := s.now
	for i := 1; i <= models.MaxResends; i++ {
		at = at.Add(31 * time.Second)
		ch, err := s.svc.Resend(s.ctxAt(at), "T1")
		s.Require().NoError(err)
		s.Equal(i, ch.ResendCount)
	}

	at = at.Add(31 * time.Second)
	_, err = s.svc.Resend(s.ctxAt(at), "T1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTooManyRequests))
	s.Contains(err.Error(), "resend limit")
}

// A resend refreshes expiry and the code but must not reset the attempt
// counter; otherwise resending would bypass the attempt limit.
func (s *ServiceSuite) TestResend_PreservesAttempts() {
	ch, err := s.svc.Issue(s.ctxAt(s.now), "T1", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)

	wrong := "000000"
	if wrong == ch.Code {
		wrong = "000001"
	}
	for range 2 {
		err := s.svc.Verify(s.ctxAt(s.now.Add(time.Second)), "T1", wrong)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}

	reissued, err := s.svc.Resend(s.ctxAt(s.now.Add(31*time.Second)), "T1")
	s.Require().NoError(err)
	s.Equal(2, reissued.Attempts)
	s.Equal(1, reissued.RemainingAttempts())
}

func (s *ServiceSuite) TestResend_LinkMintsFreshLink() {
	_, err := s.svc.IssueLink(s.ctxAt(s.now), "T1", "bob@example.com", "https://portal.example.com/verify")
	s.Require().NoError(err)

	reissued, err := s.svc.Resend(s.ctxAt(s.now.Add(31*time.Second)), "T1")
	s.Require().NoError(err)
	s.Equal(models.MethodEmailLink, reissued.Method)
	s.Equal("https://portal.example.com/verify", reissued.ContinueURL)

	s.Require().Len(s.sender.messages, 2)
	s.NotEqual(s.sender.messages[0].Body, s.sender.messages[1].Body)
}

func (s *ServiceSuite) TestResend_UnknownCorrelationID() {
	_, err := s.svc.Resend(s.ctxAt(s.now), "ghost")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestSweepExpired() {
	_, err := s.svc.Issue(s.ctxAt(s.now), "old", models.MethodEmailOTP, "alice@example.com")
	s.Require().NoError(err)
	_, err = s.svc.Issue(s.ctxAt(s.now.Add(4*time.Minute)), "fresh", models.MethodEmailOTP, "bob@example.com")
	s.Require().NoError(err)

	removed, err := s.svc.SweepExpired(s.ctxAt(s.now.Add(6 * time.Minute)))
	s.Require().NoError(err)
	s.Equal([]string{"old"}, removed)
}

// redeemLastLink follows the most recently sent verification link the way a
// resident clicking it would.
func (s *ServiceSuite) redeemLastLink() {
	s.Require().NotEmpty(s.sender.messages)
	body := s.sender.messages[len(s.sender.messages)-1].Body

	idx := strings.Index(body, "oobToken=")
	s.Require().GreaterOrEqual(idx, 0)
	token := body[idx+len("oobToken="):]
	if end := strings.IndexAny(token, "\n& "); end >= 0 {
		token = token[:end]
	}

	_, err := s.provider.RedeemLink(context.Background(), token)
	s.Require().NoError(err)
}
