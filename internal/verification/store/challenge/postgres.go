package challenge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"civica/internal/verification/models"
	"civica/pkg/platform/sentinel"
)

// Postgres persists verification challenges in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Put(ctx context.Context, ch *models.Challenge) error {
	query := `
		INSERT INTO verification_challenges
			(correlation_id, method, code, target, principal_id, continue_url, created_at, expires_at, attempts, resend_count, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (correlation_id) DO UPDATE SET
			method = EXCLUDED.method,
			code = EXCLUDED.code,
			target = EXCLUDED.target,
			principal_id = EXCLUDED.principal_id,
			continue_url = EXCLUDED.continue_url,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			attempts = EXCLUDED.attempts,
			resend_count = EXCLUDED.resend_count,
			used = EXCLUDED.used
	`
	_, err := s.db.ExecContext(ctx, query,
		ch.CorrelationID,
		string(ch.Method),
		ch.Code,
		ch.Target,
		ch.PrincipalID,
		ch.ContinueURL,
		ch.CreatedAt,
		ch.ExpiresAt,
		ch.Attempts,
		ch.ResendCount,
		ch.Used,
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, correlationID string) (*models.Challenge, error) {
	query := `
		SELECT correlation_id, method, code, target, principal_id, continue_url, created_at, expires_at, attempts, resend_count, used
		FROM verification_challenges
		WHERE correlation_id = $1
	`
	ch, err := scanChallenge(s.db.QueryRowContext(ctx, query, correlationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("challenge %q: %w", correlationID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return ch, nil
}

func (s *Postgres) Delete(ctx context.Context, correlationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_challenges WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

func (s *Postgres) MarkUsed(ctx context.Context, correlationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE verification_challenges SET used = TRUE WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return fmt.Errorf("mark challenge used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark challenge used: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("challenge %q: %w", correlationID, sentinel.ErrNotFound)
	}
	return nil
}

// RecordFailedAttempt atomically increments the attempt counter and deletes
// the record when the counter reaches max. The increment uses a single
// UPDATE...RETURNING and the conditional delete runs in the same transaction,
// so two concurrent wrong guesses cannot both observe the pre-threshold count
// and neither trigger deletion.
func (s *Postgres) RecordFailedAttempt(ctx context.Context, correlationID string, max int) (attempts int, deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("record failed attempt: begin: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		UPDATE verification_challenges
		SET attempts = attempts + 1
		WHERE correlation_id = $1
		RETURNING attempts
	`, correlationID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, fmt.Errorf("challenge %q: %w", correlationID, sentinel.ErrNotFound)
		}
		return 0, false, fmt.Errorf("record failed attempt: %w", err)
	}

	if attempts >= max {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM verification_challenges WHERE correlation_id = $1`, correlationID); err != nil {
			return 0, false, fmt.Errorf("record failed attempt: delete at threshold: %w", err)
		}
		deleted = true
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("record failed attempt: commit: %w", err)
	}
	return attempts, deleted, nil
}

func (s *Postgres) DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM verification_challenges
		WHERE expires_at < $1
		RETURNING correlation_id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete expired challenges: %w", err)
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("delete expired challenges: scan: %w", err)
		}
		removed = append(removed, id)
	}
	return removed, rows.Err()
}

func scanChallenge(row *sql.Row) (*models.Challenge, error) {
	var ch models.Challenge
	var method string
	err := row.Scan(
		&ch.CorrelationID,
		&method,
		&ch.Code,
		&ch.Target,
		&ch.PrincipalID,
		&ch.ContinueURL,
		&ch.CreatedAt,
		&ch.ExpiresAt,
		&ch.Attempts,
		&ch.ResendCount,
		&ch.Used,
	)
	if err != nil {
		return nil, err
	}
	ch.Method = models.Method(method)
	return &ch, nil
}
