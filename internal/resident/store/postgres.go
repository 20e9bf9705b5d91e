package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"civica/internal/resident/models"
	"civica/pkg/platform/sentinel"
)

// Postgres persists resident accounts in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, account *models.ResidentAccount) error {
	query := `
		INSERT INTO residents
			(resident_id, principal_id, first_name, last_name, email, phone, address_line, barangay, city, account_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		account.ResidentID,
		account.PrincipalID,
		account.FirstName,
		account.LastName,
		account.Email,
		account.Phone,
		account.AddressLine,
		account.Barangay,
		account.City,
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("resident %q: %w", account.ResidentID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create resident: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, residentID string) (*models.ResidentAccount, error) {
	return s.getBy(ctx, "resident_id", residentID)
}

func (s *Postgres) GetByPrincipal(ctx context.Context, principalID string) (*models.ResidentAccount, error) {
	return s.getBy(ctx, "principal_id", principalID)
}

func (s *Postgres) getBy(ctx context.Context, column, value string) (*models.ResidentAccount, error) {
	query := fmt.Sprintf(`
		SELECT resident_id, principal_id, first_name, last_name, email, phone, address_line, barangay, city, account_status, created_at, updated_at
		FROM residents
		WHERE %s = $1
	`, column)

	var account models.ResidentAccount
	var status string
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&account.ResidentID,
		&account.PrincipalID,
		&account.FirstName,
		&account.LastName,
		&account.Email,
		&account.Phone,
		&account.AddressLine,
		&account.Barangay,
		&account.City,
		&status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("resident by %s %q: %w", column, value, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get resident: %w", err)
	}
	account.Status = models.AccountStatus(status)
	return &account, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
