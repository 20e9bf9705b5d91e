package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"civica/internal/identity/local"
	"civica/internal/notify"
	regservice "civica/internal/registration/service"
	regstore "civica/internal/registration/store"
	resservice "civica/internal/resident/service"
	resstore "civica/internal/resident/store"
	"civica/internal/sequence"
	vservice "civica/internal/verification/service"
	"civica/internal/verification/store/challenge"
)

var otpPattern = regexp.MustCompile(`\b(\d{6})\b`)

type recordingSender struct {
	messages []notify.Message
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingSender) lastCode() string {
	if len(r.messages) == 0 {
		return ""
	}
	m := otpPattern.FindStringSubmatch(r.messages[len(r.messages)-1].Body)
	if m == nil {
		return ""
	}
	return m[1]
}

type HandlerSuite struct {
	suite.Suite
	router   chi.Router
	sender   *recordingSender
	accounts *resstore.Memory
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.sender = &recordingSender{}
	s.accounts = resstore.NewMemory()

	challenges := challenge.NewMemory()
	registrations := regstore.NewMemory()
	provider := local.New("test-signing-key")

	verifier, err := vservice.New(challenges, provider, s.sender)
	s.Require().NoError(err)

	intake, err := regservice.NewIntake(registrations, verifier)
	s.Require().NoError(err)

	allocator, err := sequence.NewAllocator(sequence.NewMemoryStore())
	s.Require().NoError(err)

	materializer, err := resservice.NewMaterializer(
		verifier, challenges, registrations, s.accounts, allocator, provider)
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	s.router.Use(RequestMetadata)
	New(intake, verifier, materializer, nil).Register(s.router)
}

func (s *HandlerSuite) post(path string, body any) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) startBody() StartRequest {
	return StartRequest{
		Method:    "email-otp",
		FirstName: "Alice",
		LastName:  "Reyes",
		Email:     "alice@example.com",
		Password:  "correct-horse-battery",
		City:      "Naga",
	}
}

func (s *HandlerSuite) startFlow() string {
	rec := s.post("/v1/verification/start", s.startBody())
	s.Require().Equal(http.StatusCreated, rec.Code)

	var resp ChallengeResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.CorrelationID
}

func (s *HandlerSuite) TestStart() {
	rec := s.post("/v1/verification/start", s.startBody())
	s.Require().Equal(http.StatusCreated, rec.Code)

	var resp ChallengeResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.True(resp.Success)
	s.NotEmpty(resp.CorrelationID)
	s.Equal("email-otp", resp.Method)
	s.Equal(5, resp.ResendsRemaining)
	s.False(resp.ExpiresAt.IsZero())

	s.Require().Len(s.sender.messages, 1)
	s.NotEmpty(s.sender.lastCode())
}

func (s *HandlerSuite) TestStart_ValidationError() {
	body := s.startBody()
	body.Email = "not-an-address"

	rec := s.post("/v1/verification/start", body)
	s.Require().Equal(http.StatusBadRequest, rec.Code)

	var resp struct {
		Success   bool   `json:"success"`
		ErrorCode string `json:"error_code"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.False(resp.Success)
	s.Equal("validation", resp.ErrorCode)
}

func (s *HandlerSuite) TestStart_MalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/v1/verification/start",
		bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Require().Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestConfirm_HappyPath() {
	correlationID := s.startFlow()
	code := s.sender.lastCode()
	s.Require().NotEmpty(code)

	rec := s.post("/v1/verification/confirm", ConfirmRequest{
		CorrelationID: correlationID,
		Code:          code,
	})
	s.Require().Equal(http.StatusCreated, rec.Code)

	var resp ConfirmResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.True(resp.Success)
	s.Equal("SF-000001", resp.ResidentID)
	s.Equal("pending_verification", resp.Status)
	s.Equal(1, s.accounts.Count())
}

func (s *HandlerSuite) TestConfirm_WrongCode() {
	correlationID := s.startFlow()
	code := s.sender.lastCode()
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	rec := s.post("/v1/verification/confirm", ConfirmRequest{
		CorrelationID: correlationID,
		Code:          wrong,
	})
	s.Require().Equal(http.StatusBadRequest, rec.Code)

	var resp struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("invalid_input", resp.ErrorCode)
	s.Contains(resp.Message, "remaining")
	s.Equal(0, s.accounts.Count())
}

func (s *HandlerSuite) TestConfirm_AttemptsExhausted() {
	correlationID := s.startFlow()
	code := s.sender.lastCode()
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 2; i++ {
		rec := s.post("/v1/verification/confirm", ConfirmRequest{CorrelationID: correlationID, Code: wrong})
		s.Require().Equal(http.StatusBadRequest, rec.Code)
	}

	// Third wrong guess exhausts the challenge.
	rec := s.post("/v1/verification/confirm", ConfirmRequest{CorrelationID: correlationID, Code: wrong})
	s.Require().Equal(http.StatusGone, rec.Code)

	// The record is deleted; even the right code is now unknown.
	rec = s.post("/v1/verification/confirm", ConfirmRequest{CorrelationID: correlationID, Code: code})
	s.Require().Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestConfirm_ReplayAfterSuccess() {
	correlationID := s.startFlow()
	code := s.sender.lastCode()

	rec := s.post("/v1/verification/confirm", ConfirmRequest{CorrelationID: correlationID, Code: code})
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.post("/v1/verification/confirm", ConfirmRequest{CorrelationID: correlationID, Code: code})
	s.Require().Equal(http.StatusNotFound, rec.Code)
	s.Equal(1, s.accounts.Count())
}

func (s *HandlerSuite) TestResend_TooSoon() {
	correlationID := s.startFlow()

	rec := s.post("/v1/verification/resend", ResendRequest{CorrelationID: correlationID})
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))

	var resp struct {
		ErrorCode  string `json:"error_code"`
		RetryAfter int    `json:"retry_after"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("too_many_requests", resp.ErrorCode)
	s.Greater(resp.RetryAfter, 0)
}

func (s *HandlerSuite) TestResend_UnknownCorrelationID() {
	rec := s.post("/v1/verification/resend", ResendRequest{CorrelationID: "nope"})
	s.Require().Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestRequestIDEchoedAndGenerated() {
	rec := s.post("/v1/verification/start", s.startBody())
	s.NotEmpty(rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodPost, "/v1/verification/resend",
		bytes.NewReader([]byte(fmt.Sprintf(`{"correlation_id":%q}`, "nope"))))
	req.Header.Set("X-Request-ID", "req-42")
	echo := httptest.NewRecorder()
	s.router.ServeHTTP(echo, req)
	s.Equal("req-42", echo.Header().Get("X-Request-ID"))
}
