// Package worker hosts the background janitor for the verification pipeline.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredSweeper removes challenges past their expiry and returns the
// correlation ids it deleted.
type ExpiredSweeper interface {
	SweepExpired(ctx context.Context) ([]string, error)
}

// RegistrationDeleter removes the pending registration paired with a swept
// challenge.
type RegistrationDeleter interface {
	Delete(ctx context.Context, correlationID string) error
}

// Sweeper periodically clears expired challenges and their orphaned pending
// registrations. Expired records are already rejected on access; the sweeper
// only stops abandoned signups from accumulating.
type Sweeper struct {
	challenges    ExpiredSweeper
	registrations RegistrationDeleter
	logger        *slog.Logger
}

func NewSweeper(challenges ExpiredSweeper, registrations RegistrationDeleter, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		challenges:    challenges,
		registrations: registrations,
		logger:        logger,
	}
}

// Run sweeps on the given interval until ctx is cancelled. Sweep failures are
// logged and retried on the next tick rather than stopping the worker.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.challenges.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("challenge sweep failed", "error", err)
		return
	}

	for _, correlationID := range removed {
		if err := s.registrations.Delete(ctx, correlationID); err != nil {
			s.logger.Error("orphaned registration cleanup failed",
				"correlation_id", correlationID,
				"error", err,
			)
		}
	}
}
