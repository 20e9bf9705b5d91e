// Package service owns the signup intake rules: validate the submitted
// profile, snapshot it as a pending registration, and kick off verification.
package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"civica/internal/registration/models"
	vmodels "civica/internal/verification/models"
	dErrors "civica/pkg/domain-errors"
	"civica/pkg/requestcontext"
)

const minPasswordLength = 8

// RegistrationStore persists the pending snapshot keyed by correlation id.
type RegistrationStore interface {
	Put(ctx context.Context, reg *models.PendingRegistration) error
}

// ChallengeIssuer starts the proof-of-possession flow for a snapshot.
type ChallengeIssuer interface {
	Issue(ctx context.Context, correlationID string, method vmodels.Method, target string) (*vmodels.Challenge, error)
	IssueLink(ctx context.Context, correlationID, target, continueURL string) (*vmodels.Challenge, error)
}

// StartInput is the raw signup submission. The plaintext password never
// leaves this service: it is hashed into the snapshot and discarded.
type StartInput struct {
	Method      vmodels.Method
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Password    string
	AddressLine string
	Barangay    string
	City        string
	// ContinueURL is required for the email-link method only.
	ContinueURL string
}

// Intake validates a signup, stores the pending registration, and issues the
// first challenge under a fresh correlation id.
type Intake struct {
	registrations RegistrationStore
	issuer        ChallengeIssuer
	logger        *slog.Logger
}

type IntakeOption func(*Intake)

func WithLogger(logger *slog.Logger) IntakeOption {
	return func(i *Intake) { i.logger = logger }
}

func NewIntake(registrations RegistrationStore, issuer ChallengeIssuer, opts ...IntakeOption) (*Intake, error) {
	if registrations == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "registration store is required")
	}
	if issuer == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "challenge issuer is required")
	}
	intake := &Intake{
		registrations: registrations,
		issuer:        issuer,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(intake)
	}
	return intake, nil
}

// Start snapshots the submission and issues the challenge matching the
// requested method. Returns the challenge so transports can echo the
// correlation id and expiry to the caller.
func (i *Intake) Start(ctx context.Context, in StartInput) (*vmodels.Challenge, error) {
	if err := validateStart(&in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash password")
	}

	correlationID := uuid.NewString()
	reg := &models.PendingRegistration{
		SchemaVersion: models.CurrentSchemaVersion,
		CorrelationID: correlationID,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Email:         in.Email,
		Phone:         in.Phone,
		PasswordHash:  string(hash),
		AddressLine:   in.AddressLine,
		Barangay:      in.Barangay,
		City:          in.City,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := i.registrations.Put(ctx, reg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store pending registration")
	}

	var ch *vmodels.Challenge
	switch in.Method {
	case vmodels.MethodEmailLink:
		ch, err = i.issuer.IssueLink(ctx, correlationID, in.Email, in.ContinueURL)
	case vmodels.MethodPhone:
		ch, err = i.issuer.Issue(ctx, correlationID, in.Method, in.Phone)
	default:
		ch, err = i.issuer.Issue(ctx, correlationID, in.Method, in.Email)
	}
	if err != nil {
		// The snapshot stays: a retry under a new correlation id overwrites
		// nothing, and the sweeper clears abandoned ones.
		return nil, err
	}

	i.logger.InfoContext(ctx, "verification started",
		"correlation_id", correlationID,
		"method", string(in.Method),
	)
	return ch, nil
}

func validateStart(in *StartInput) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)

	if !in.Method.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown verification method %q", in.Method)
	}
	if in.FirstName == "" || in.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "first and last name are required")
	}
	if in.Method == vmodels.MethodPhone {
		if in.Phone == "" {
			return dErrors.New(dErrors.CodeValidation, "phone number is required for phone verification")
		}
	}
	if in.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email address is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return dErrors.Newf(dErrors.CodeValidation, "email address %q is not valid", in.Email)
	}
	if len(in.Password) < minPasswordLength {
		return dErrors.Newf(dErrors.CodeValidation, "password must be at least %d characters", minPasswordLength)
	}
	return nil
}
