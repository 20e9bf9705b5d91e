// Package sequence issues the next integer in a named monotonic series.
// Resident ids and document control numbers are both minted from it.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"civica/internal/platform/metrics"
	dErrors "civica/pkg/domain-errors"
	"civica/pkg/platform/sentinel"
)

// SeriesResidents is the series backing resident-id allocation.
const SeriesResidents = "residents"

// DocumentSeries names the control-number series for one document type.
func DocumentSeries(docType string) string {
	return "document:" + docType
}

// Store performs the atomic read-modify-write of a series counter. Increment
// must never hand the same value to two concurrent callers for one series;
// conflicting commits return sentinel.ErrConflict (wrapped) so the allocator
// can retry.
type Store interface {
	Increment(ctx context.Context, series string) (int64, error)
}

const (
	maxRetries     = 5
	initialBackoff = 25 * time.Millisecond
)

// Allocator wraps a Store with bounded conflict retry. The counter is the one
// hot shared resource under load (batch imports), so a conflicting commit is
// retried with doubling backoff rather than surfaced immediately.
type Allocator struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Allocator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) {
		a.metrics = m
	}
}

func NewAllocator(store Store, opts ...Option) (*Allocator, error) {
	if store == nil {
		return nil, errors.New("sequence store is required")
	}

	a := &Allocator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Next returns the next integer in the series. On conflict-retry exhaustion
// it fails with CodeSequenceUnavailable; callers must not fabricate an id.
// Either the counter advances and a value is returned, or neither happens.
func (a *Allocator) Next(ctx context.Context, series string) (int64, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		n, err := a.store.Increment(ctx, series)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return 0, dErrors.Wrap(err, dErrors.CodeSequenceUnavailable, "sequence increment failed")
		}

		lastErr = err
		if a.metrics != nil {
			a.metrics.SequenceConflicts.Inc()
		}
		a.logger.Debug("sequence allocation conflict, retrying",
			"series", series,
			"attempt", attempt+1,
		)

		select {
		case <-ctx.Done():
			return 0, dErrors.Wrap(ctx.Err(), dErrors.CodeSequenceUnavailable, "sequence allocation cancelled")
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return 0, dErrors.Wrap(lastErr, dErrors.CodeSequenceUnavailable,
		fmt.Sprintf("series %q still conflicting after %d attempts", series, maxRetries))
}

// FormatResidentID renders a resident sequence value as the human-readable
// portal id, e.g. 123 -> "SF-000123".
func FormatResidentID(n int64) string {
	return fmt.Sprintf("SF-%06d", n)
}

// FormatControlNumber renders a document sequence value as a two-part control
// number, e.g. ("BRGY", 12345) -> "BRGY-0001-2345".
func FormatControlNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%04d-%04d", prefix, n/10000, n%10000)
}
