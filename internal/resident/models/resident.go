package models

import (
	"time"

	dErrors "civica/pkg/domain-errors"
)

// AccountStatus is the explicit lifecycle state of a resident account.
type AccountStatus string

const (
	// StatusPending marks legacy accounts imported without portal credentials.
	StatusPending AccountStatus = "pending"

	// StatusPendingVerification is the state a freshly materialized account
	// lands in; admin approval moves it on.
	StatusPendingVerification AccountStatus = "pending_verification"

	StatusVerified AccountStatus = "verified"
	StatusActive   AccountStatus = "active"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPendingVerification, StatusVerified, StatusActive:
		return true
	}
	return false
}

// ResidentAccount is the durable outcome of the provisioning pipeline.
// Created exactly once by the materializer; profile-management flows own it
// afterwards.
type ResidentAccount struct {
	// ResidentID is the human-readable portal id, e.g. "SF-000123".
	ResidentID  string
	PrincipalID string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	AddressLine string
	Barangay    string
	City        string
	Status      AccountStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MarkVerified transitions pending_verification -> verified.
func (r *ResidentAccount) MarkVerified(now time.Time) error {
	if r.Status != StatusPendingVerification {
		return dErrors.Newf(dErrors.CodeConflict, "account %s cannot be verified from status %q", r.ResidentID, r.Status)
	}
	r.Status = StatusVerified
	r.UpdatedAt = now
	return nil
}

// Activate transitions verified -> active.
func (r *ResidentAccount) Activate(now time.Time) error {
	if r.Status != StatusVerified {
		return dErrors.Newf(dErrors.CodeConflict, "account %s cannot be activated from status %q", r.ResidentID, r.Status)
	}
	r.Status = StatusActive
	r.UpdatedAt = now
	return nil
}
