package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"passculture/internal/platform/postgres"
	"passculture/internal/user/models"
	id "passculture/pkg/domain"
	"passculture/pkg/platform/sentinel"
	txcontext "passculture/pkg/platform/tx"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const userColumns = `id, email, first_name, last_name, date_of_birth, phone, postal_code,
	department_code, civility, activity, is_beneficiary, is_admin, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uuid.UUID(userID))
	return scanUser(row, "find user by id")
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row, "find user by email")
}

// LockAndGet reads the user under SELECT ... FOR UPDATE. It must run inside a
// transaction for the lock to outlive the statement.
func (s *PostgresStore) LockAndGet(ctx context.Context, userID id.UserID) (*models.User, error) {
	if _, ok := txcontext.From(ctx); !ok {
		return nil, fmt.Errorf("lock user %s: %w", userID, sentinel.ErrInvalidState)
	}
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, uuid.UUID(userID))
	return scanUser(row, "lock user")
}

func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(user.ID),
		user.Email,
		user.FirstName,
		user.LastName,
		nullDate(user.DateOfBirth),
		user.Phone,
		user.PostalCode,
		user.DepartmentCode,
		user.Civility,
		user.Activity,
		user.IsBeneficiary,
		user.IsAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return fmt.Errorf("email %s: %w", user.Email, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users SET
			email = $2, first_name = $3, last_name = $4, date_of_birth = $5, phone = $6,
			postal_code = $7, department_code = $8, civility = $9, activity = $10,
			is_beneficiary = $11, is_admin = $12, updated_at = $13
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(user.ID),
		user.Email,
		user.FirstName,
		user.LastName,
		nullDate(user.DateOfBirth),
		user.Phone,
		user.PostalCode,
		user.DepartmentCode,
		user.Civility,
		user.Activity,
		user.IsBeneficiary,
		user.IsAdmin,
		user.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, postgres.ConstraintUsersEmail) {
			return fmt.Errorf("email %s: %w", user.Email, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindBeneficiaryByIdentity(ctx context.Context, firstName, lastName string, dateOfBirth time.Time) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE is_beneficiary
		  AND lower(first_name) = lower($1)
		  AND lower(last_name) = lower($2)
		  AND date_of_birth = $3
		LIMIT 1`
	row := s.execer(ctx).QueryRowContext(ctx, query,
		strings.TrimSpace(firstName),
		strings.TrimSpace(lastName),
		dateOfBirth.Format(time.DateOnly),
	)
	return scanUser(row, "find beneficiary by identity")
}

func scanUser(row *sql.Row, op string) (*models.User, error) {
	var (
		u      models.User
		userID uuid.UUID
		dob    sql.NullTime
	)
	err := row.Scan(
		&userID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&dob,
		&u.Phone,
		&u.PostalCode,
		&u.DepartmentCode,
		&u.Civility,
		&u.Activity,
		&u.IsBeneficiary,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.ID = id.UserID(userID)
	if dob.Valid {
		d := time.Date(dob.Time.Year(), dob.Time.Month(), dob.Time.Day(), 0, 0, 0, 0, time.UTC)
		u.DateOfBirth = &d
	}
	return &u, nil
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}
