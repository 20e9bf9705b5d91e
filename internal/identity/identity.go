// Package identity defines the capability interface for the external
// identity provider. The pipeline only ever talks to Provider; the bundled
// local implementation serves dev and tests.
package identity

import "context"

// Principal is an identity-provider-managed account record, distinct from
// the portal's ResidentAccount.
type Principal struct {
	ID          string
	Address     string
	DisplayName string
	Verified    bool
	Disabled    bool
}

// PrincipalAttrs carries a partial update; nil fields are left untouched.
// Password is plaintext for providers that hash internally; PasswordHash
// imports an already-hashed credential (the registration intake hashes
// before anything is persisted, so plaintext never reaches a store).
type PrincipalAttrs struct {
	DisplayName  *string
	Password     *string
	PasswordHash *string
	Verified     *bool
	Disabled     *bool
}

// Provider is the identity-provider capability. Implementations return
// sentinel.ErrNotFound (wrapped) for missing principals; all other failures
// are provider errors the services surface as CodeProviderError.
//
// Password verification is deliberately absent: login belongs to the
// provider, not to this subsystem.
type Provider interface {
	FindPrincipalByAddress(ctx context.Context, address string) (*Principal, error)
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	CreatePrincipal(ctx context.Context, address string, attrs PrincipalAttrs) (*Principal, error)
	UpdatePrincipal(ctx context.Context, id string, attrs PrincipalAttrs) error

	// DeletePrincipal exists for the materializer's single best-effort
	// rollback of an orphaned principal.
	DeletePrincipal(ctx context.Context, id string) error

	// IssueVerificationLink mints a single-use out-of-band verification link
	// for the address. The provider owns the secret; callers store none.
	IssueVerificationLink(ctx context.Context, address, continueURL string) (string, error)
}

// Helpers for building PrincipalAttrs literals.
func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
