// Package store persists resident accounts.
package store

import (
	"context"
	"fmt"
	"sync"

	"civica/internal/resident/models"
	"civica/pkg/platform/sentinel"
)

// Memory keeps resident accounts in process memory.
type Memory struct {
	mu          sync.Mutex
	accounts    map[string]*models.ResidentAccount
	byPrincipal map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[string]*models.ResidentAccount),
		byPrincipal: make(map[string]string),
	}
}

// Create inserts a new account. Duplicate resident id or principal id is a
// conflict: accounts are created exactly once.
func (s *Memory) Create(_ context.Context, account *models.ResidentAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ResidentID]; exists {
		return fmt.Errorf("resident %q: %w", account.ResidentID, sentinel.ErrConflict)
	}
	if _, exists := s.byPrincipal[account.PrincipalID]; exists {
		return fmt.Errorf("principal %q already linked: %w", account.PrincipalID, sentinel.ErrConflict)
	}

	clone := *account
	s.accounts[account.ResidentID] = &clone
	s.byPrincipal[account.PrincipalID] = account.ResidentID
	return nil
}

func (s *Memory) Get(_ context.Context, residentID string) (*models.ResidentAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[residentID]
	if !ok {
		return nil, fmt.Errorf("resident %q: %w", residentID, sentinel.ErrNotFound)
	}
	clone := *account
	return &clone, nil
}

func (s *Memory) GetByPrincipal(_ context.Context, principalID string) (*models.ResidentAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	residentID, ok := s.byPrincipal[principalID]
	if !ok {
		return nil, fmt.Errorf("principal %q: %w", principalID, sentinel.ErrNotFound)
	}
	clone := *s.accounts[residentID]
	return &clone, nil
}

// Count returns the number of stored accounts. Test helper.
func (s *Memory) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}
