package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"civica/internal/identity/local"
	"civica/internal/notify"
	"civica/internal/registration/store"
	vmodels "civica/internal/verification/models"
	vservice "civica/internal/verification/service"
	"civica/internal/verification/store/challenge"
	dErrors "civica/pkg/domain-errors"
	"civica/pkg/requestcontext"
)

type recordingSender struct {
	messages []notify.Message
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

type IntakeSuite struct {
	suite.Suite
	registrations *store.Memory
	challenges    *challenge.Memory
	sender        *recordingSender
	intake        *Intake
	now           time.Time
}

func TestIntakeSuite(t *testing.T) {
	suite.Run(t, new(IntakeSuite))
}

func (s *IntakeSuite) SetupTest() {
	s.registrations = store.NewMemory()
	s.challenges = challenge.NewMemory()
	s.sender = &recordingSender{}
	s.now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	verifier, err := vservice.New(s.challenges, local.New("test-signing-key"), s.sender)
	s.Require().NoError(err)

	intake, err := NewIntake(s.registrations, verifier)
	s.Require().NoError(err)
	s.intake = intake
}

func (s *IntakeSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *IntakeSuite) validInput() StartInput {
	return StartInput{
		Method:      vmodels.MethodEmailOTP,
		FirstName:   "Alice",
		LastName:    "Reyes",
		Email:       "Alice@Example.com",
		Phone:       "+15551234567",
		Password:    "correct-horse-battery",
		AddressLine: "12 Mabini St",
		Barangay:    "San Felipe",
		City:        "Naga",
	}
}

func (s *IntakeSuite) TestStart_SnapshotsAndIssuesOTP() {
	ch, err := s.intake.Start(s.ctx(), s.validInput())
	s.Require().NoError(err)

	s.NotEmpty(ch.CorrelationID)
	s.Equal(vmodels.MethodEmailOTP, ch.Method)
	s.Len(ch.Code, 6)
	s.Equal(s.now.Add(5*time.Minute), ch.ExpiresAt)

	reg, err := s.registrations.Get(s.ctx(), ch.CorrelationID)
	s.Require().NoError(err)
	// Email is normalized; the password is stored only as a bcrypt hash.
	s.Equal("alice@example.com", reg.Email)
	s.NoError(bcrypt.CompareHashAndPassword([]byte(reg.PasswordHash), []byte("correct-horse-battery")))
	s.NotContains(reg.PasswordHash, "correct-horse-battery")

	s.Require().Len(s.sender.messages, 1)
	s.Equal(notify.ChannelEmail, s.sender.messages[0].Channel)
}

func (s *IntakeSuite) TestStart_PhoneMethodTargetsPhone() {
	in := s.validInput()
	in.Method = vmodels.MethodPhone

	ch, err := s.intake.Start(s.ctx(), in)
	s.Require().NoError(err)
	s.Equal("+15551234567", ch.Target)

	s.Require().Len(s.sender.messages, 1)
	s.Equal(notify.ChannelSMS, s.sender.messages[0].Channel)
}

func (s *IntakeSuite) TestStart_LinkMethodUsesContinueURL() {
	in := s.validInput()
	in.Method = vmodels.MethodEmailLink
	in.ContinueURL = "https://portal.example.com/verify"

	ch, err := s.intake.Start(s.ctx(), in)
	s.Require().NoError(err)
	s.Equal(vmodels.MethodEmailLink, ch.Method)
	s.Empty(ch.Code)
	s.NotEmpty(ch.PrincipalID)
}

func (s *IntakeSuite) TestStart_ValidationFailures() {
	cases := []struct {
		name   string
		mutate func(*StartInput)
	}{
		{"unknown method", func(in *StartInput) { in.Method = "carrier-pigeon" }},
		{"missing first name", func(in *StartInput) { in.FirstName = "  " }},
		{"missing email", func(in *StartInput) { in.Email = "" }},
		{"malformed email", func(in *StartInput) { in.Email = "not-an-address" }},
		{"short password", func(in *StartInput) { in.Password = "short" }},
		{"phone method without phone", func(in *StartInput) {
			in.Method = vmodels.MethodPhone
			in.Phone = ""
		}},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			in := s.validInput()
			tc.mutate(&in)

			_, err := s.intake.Start(s.ctx(), in)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}

	// No snapshots or messages from rejected submissions.
	s.Empty(s.sender.messages)
}

func (s *IntakeSuite) TestStart_InvalidContinueURLFailsBeforeSnapshotDispatch() {
	in := s.validInput()
	in.Method = vmodels.MethodEmailLink
	in.ContinueURL = "/relative/path"

	_, err := s.intake.Start(s.ctx(), in)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.sender.messages)
}
