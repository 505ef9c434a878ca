package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"passculture/internal/deposit/models"
	"passculture/internal/platform/postgres"
	id "passculture/pkg/domain"
	"passculture/pkg/platform/sentinel"
	txcontext "passculture/pkg/platform/tx"
)

// PostgresStore persists deposits in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed deposit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const depositColumns = `id, user_id, type, version, amount, source, expiration_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) FindByUserAndType(ctx context.Context, userID id.UserID, t models.EligibilityType) (*models.Deposit, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE user_id = $1 AND type = $2`,
		uuid.UUID(userID), string(t))
	d, err := scanDeposit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find deposit: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]models.Deposit, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE user_id = $1 ORDER BY created_at`,
		uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()

	var out []models.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Create inserts the deposit. The (user_id, type) unique index turns a lost
// race into sentinel.ErrAlreadyUsed.
func (s *PostgresStore) Create(ctx context.Context, deposit *models.Deposit) error {
	query := `
		INSERT INTO deposits (` + depositColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var expiration sql.NullTime
	if deposit.ExpirationDate != nil {
		expiration = sql.NullTime{Time: *deposit.ExpirationDate, Valid: true}
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(deposit.ID),
		uuid.UUID(deposit.UserID),
		string(deposit.Type),
		deposit.Version,
		deposit.Amount,
		deposit.Source,
		expiration,
		deposit.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, postgres.ConstraintDepositsUserType) {
			return fmt.Errorf("deposit %s for user %s: %w", deposit.Type, deposit.UserID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert deposit: %w", err)
	}
	return nil
}

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var (
		d          models.Deposit
		depositID  uuid.UUID
		userID     uuid.UUID
		typ        string
		amount     decimal.Decimal
		expiration sql.NullTime
	)
	if err := row.Scan(&depositID, &userID, &typ, &d.Version, &amount, &d.Source, &expiration, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.ID = id.DepositID(depositID)
	d.UserID = id.UserID(userID)
	d.Type = models.EligibilityType(typ)
	d.Amount = amount
	if expiration.Valid {
		t := expiration.Time
		d.ExpirationDate = &t
	}
	return &d, nil
}
