package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"civica/pkg/platform/sentinel"
)

// PostgresStore persists series counters in PostgreSQL.
// The increment is a single INSERT ... ON CONFLICT DO UPDATE ... RETURNING, so
// the read of count and the write of count+1 commit atomically; two concurrent
// callers can never observe the same value.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, series string) (int64, error) {
	query := `
		INSERT INTO sequences (series, count, last_updated)
		VALUES ($1, 1, now())
		ON CONFLICT (series) DO UPDATE SET
			count = sequences.count + 1,
			last_updated = now()
		RETURNING count
	`
	var count int64
	if err := s.db.QueryRowContext(ctx, query, series).Scan(&count); err != nil {
		if isSerializationFailure(err) {
			return 0, fmt.Errorf("increment series %q: %w", series, sentinel.ErrConflict)
		}
		return 0, fmt.Errorf("increment series %q: %w", series, err)
	}
	return count, nil
}

// isSerializationFailure matches the commit-time errors Postgres raises when
// concurrent transactions collide (serialization_failure, deadlock_detected).
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
