// Package challenge stores verification challenges. Stores are pure I/O;
// state interpretation (expiry, used, exhaustion) belongs to the service.
package challenge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"civica/internal/verification/models"
	"civica/pkg/platform/sentinel"
)

// Memory keeps challenges in process memory. All mutations happen under one
// mutex, which gives the same linearizability per correlation id that the
// Postgres store gets from transactions.
type Memory struct {
	mu         sync.Mutex
	challenges map[string]*models.Challenge
}

func NewMemory() *Memory {
	return &Memory{challenges: make(map[string]*models.Challenge)}
}

// Put upserts the challenge. Last issue wins: any prior record for the same
// correlation id is overwritten whole.
func (s *Memory) Put(_ context.Context, ch *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *ch
	s.challenges[ch.CorrelationID] = &clone
	return nil
}

func (s *Memory) Get(_ context.Context, correlationID string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[correlationID]
	if !ok {
		return nil, fmt.Errorf("challenge %q: %w", correlationID, sentinel.ErrNotFound)
	}
	clone := *ch
	return &clone, nil
}

func (s *Memory) Delete(_ context.Context, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.challenges, correlationID)
	return nil
}

// MarkUsed sets the terminal used flag, retaining the record for replay
// detection.
func (s *Memory) MarkUsed(_ context.Context, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[correlationID]
	if !ok {
		return fmt.Errorf("challenge %q: %w", correlationID, sentinel.ErrNotFound)
	}
	ch.Used = true
	return nil
}

// RecordFailedAttempt increments the attempt counter and deletes the record
// when the counter reaches max. Increment and delete happen under one lock so
// two concurrent wrong guesses cannot both observe the pre-threshold count.
func (s *Memory) RecordFailedAttempt(_ context.Context, correlationID string, max int) (attempts int, deleted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[correlationID]
	if !ok {
		return 0, false, fmt.Errorf("challenge %q: %w", correlationID, sentinel.ErrNotFound)
	}

	ch.Attempts++
	if ch.Attempts >= max {
		delete(s.challenges, correlationID)
		return ch.Attempts, true, nil
	}
	return ch.Attempts, false, nil
}

// DeleteExpired removes every challenge whose expiry precedes the cutoff and
// returns the correlation ids removed. Used by the sweeper.
func (s *Memory) DeleteExpired(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, ch := range s.challenges {
		if ch.ExpiresAt.Before(cutoff) {
			delete(s.challenges, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}
