package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"civica/internal/registration/models"
	"civica/pkg/platform/sentinel"
)

// Postgres persists pending registrations in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Put(ctx context.Context, reg *models.PendingRegistration) error {
	query := `
		INSERT INTO pending_registrations
			(correlation_id, schema_version, first_name, last_name, email, phone, password_hash, address_line, barangay, city, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (correlation_id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			password_hash = EXCLUDED.password_hash,
			address_line = EXCLUDED.address_line,
			barangay = EXCLUDED.barangay,
			city = EXCLUDED.city,
			created_at = EXCLUDED.created_at
	`
	_, err := s.db.ExecContext(ctx, query,
		reg.CorrelationID,
		reg.SchemaVersion,
		reg.FirstName,
		reg.LastName,
		reg.Email,
		reg.Phone,
		reg.PasswordHash,
		reg.AddressLine,
		reg.Barangay,
		reg.City,
		reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put pending registration: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, correlationID string) (*models.PendingRegistration, error) {
	query := `
		SELECT correlation_id, schema_version, first_name, last_name, email, phone, password_hash, address_line, barangay, city, created_at
		FROM pending_registrations
		WHERE correlation_id = $1
	`
	var reg models.PendingRegistration
	err := s.db.QueryRowContext(ctx, query, correlationID).Scan(
		&reg.CorrelationID,
		&reg.SchemaVersion,
		&reg.FirstName,
		&reg.LastName,
		&reg.Email,
		&reg.Phone,
		&reg.PasswordHash,
		&reg.AddressLine,
		&reg.Barangay,
		&reg.City,
		&reg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pending registration %q: %w", correlationID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get pending registration: %w", err)
	}
	return &reg, nil
}

func (s *Postgres) Delete(ctx context.Context, correlationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_registrations WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return fmt.Errorf("delete pending registration: %w", err)
	}
	return nil
}
