// Package local is a self-contained identity provider for development and
// tests: in-memory principal table, bcrypt password hashing, and verification
// links carried as short-lived signed tokens.
package local

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"civica/internal/identity"
	"civica/pkg/platform/sentinel"
)

const linkTokenTTL = 10 * time.Minute

type principalRecord struct {
	identity.Principal
	passwordHash []byte
}

// Provider implements identity.Provider against process memory.
type Provider struct {
	signingKey []byte

	mu         sync.Mutex
	principals map[string]*principalRecord
	byAddress  map[string]string
	usedNonces map[string]struct{}
}

func New(signingKey string) *Provider {
	return &Provider{
		signingKey: []byte(signingKey),
		principals: make(map[string]*principalRecord),
		byAddress:  make(map[string]string),
		usedNonces: make(map[string]struct{}),
	}
}

func (p *Provider) FindPrincipalByAddress(_ context.Context, address string) (*identity.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byAddress[address]
	if !ok {
		return nil, fmt.Errorf("principal for %q: %w", address, sentinel.ErrNotFound)
	}
	principal := p.principals[id].Principal
	return &principal, nil
}

func (p *Provider) GetPrincipal(_ context.Context, id string) (*identity.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.principals[id]
	if !ok {
		return nil, fmt.Errorf("principal %q: %w", id, sentinel.ErrNotFound)
	}
	principal := record.Principal
	return &principal, nil
}

func (p *Provider) CreatePrincipal(_ context.Context, address string, attrs identity.PrincipalAttrs) (*identity.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byAddress[address]; exists {
		return nil, fmt.Errorf("principal for %q: %w", address, sentinel.ErrConflict)
	}

	record := &principalRecord{
		Principal: identity.Principal{
			ID:      uuid.NewString(),
			Address: address,
		},
	}
	if err := applyAttrs(record, attrs); err != nil {
		return nil, err
	}

	p.principals[record.ID] = record
	p.byAddress[address] = record.ID

	principal := record.Principal
	return &principal, nil
}

func (p *Provider) UpdatePrincipal(_ context.Context, id string, attrs identity.PrincipalAttrs) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.principals[id]
	if !ok {
		return fmt.Errorf("principal %q: %w", id, sentinel.ErrNotFound)
	}
	return applyAttrs(record, attrs)
}

func (p *Provider) DeletePrincipal(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.principals[id]
	if !ok {
		return fmt.Errorf("principal %q: %w", id, sentinel.ErrNotFound)
	}
	delete(p.byAddress, record.Address)
	delete(p.principals, id)
	return nil
}

// IssueVerificationLink mints a single-use signed token for the address and
// appends it to continueURL. The token is the secret; nothing is stored
// locally by the caller.
func (p *Provider) IssueVerificationLink(_ context.Context, address, continueURL string) (string, error) {
	parsed, err := url.Parse(continueURL)
	if err != nil || !parsed.IsAbs() {
		return "", fmt.Errorf("continue URL %q is not absolute", continueURL)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   address,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(linkTokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign verification link token: %w", err)
	}

	q := parsed.Query()
	q.Set("oobToken", token)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// RedeemLink validates a link token and marks its principal verified.
// Second redemption of the same token fails with ErrAlreadyUsed.
func (p *Provider) RedeemLink(ctx context.Context, token string) (*identity.Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse link token: %w", err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, used := p.usedNonces[claims.ID]; used {
		return nil, fmt.Errorf("link token: %w", sentinel.ErrAlreadyUsed)
	}

	id, ok := p.byAddress[claims.Subject]
	if !ok {
		return nil, fmt.Errorf("principal for %q: %w", claims.Subject, sentinel.ErrNotFound)
	}

	p.usedNonces[claims.ID] = struct{}{}
	record := p.principals[id]
	record.Verified = true

	principal := record.Principal
	return &principal, nil
}

func applyAttrs(record *principalRecord, attrs identity.PrincipalAttrs) error {
	if attrs.DisplayName != nil {
		record.DisplayName = *attrs.DisplayName
	}
	if attrs.Verified != nil {
		record.Verified = *attrs.Verified
	}
	if attrs.Disabled != nil {
		record.Disabled = *attrs.Disabled
	}
	if attrs.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*attrs.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		record.passwordHash = hash
	}
	if attrs.PasswordHash != nil {
		record.passwordHash = []byte(*attrs.PasswordHash)
	}
	return nil
}
