// Package store persists pending registrations.
package store

import (
	"context"
	"fmt"
	"sync"

	"civica/internal/registration/models"
	"civica/pkg/platform/sentinel"
)

// Memory keeps pending registrations in process memory.
type Memory struct {
	mu      sync.Mutex
	pending map[string]*models.PendingRegistration
}

func NewMemory() *Memory {
	return &Memory{pending: make(map[string]*models.PendingRegistration)}
}

func (s *Memory) Put(_ context.Context, reg *models.PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *reg
	s.pending[reg.CorrelationID] = &clone
	return nil
}

func (s *Memory) Get(_ context.Context, correlationID string) (*models.PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.pending[correlationID]
	if !ok {
		return nil, fmt.Errorf("pending registration %q: %w", correlationID, sentinel.ErrNotFound)
	}
	clone := *reg
	return &clone, nil
}

func (s *Memory) Delete(_ context.Context, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, correlationID)
	return nil
}
