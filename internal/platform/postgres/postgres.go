// Package postgres opens the primary database and owns its schema.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"passculture/internal/platform/config"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure. When
// constraint is non-empty the violated constraint must match it.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// Constraint names referenced by stores.
const (
	ConstraintUsersEmail         = "users_email_key"
	ConstraintDepositsUserType   = "deposits_user_type_key"
	ConstraintImportsApplication = "beneficiary_imports_application_key"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              UUID PRIMARY KEY,
		email           TEXT NOT NULL,
		first_name      TEXT NOT NULL DEFAULT '',
		last_name       TEXT NOT NULL DEFAULT '',
		date_of_birth   DATE,
		phone           TEXT NOT NULL DEFAULT '',
		postal_code     TEXT NOT NULL DEFAULT '',
		department_code TEXT NOT NULL DEFAULT '',
		civility        TEXT NOT NULL DEFAULT '',
		activity        TEXT NOT NULL DEFAULT '',
		is_beneficiary  BOOLEAN NOT NULL DEFAULT FALSE,
		is_admin        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		CONSTRAINT users_email_key UNIQUE (email)
	)`,
	`CREATE INDEX IF NOT EXISTS users_beneficiary_identity_idx
		ON users (lower(first_name), lower(last_name), date_of_birth)
		WHERE is_beneficiary`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id              UUID PRIMARY KEY,
		user_id         UUID NOT NULL REFERENCES users (id),
		type            TEXT NOT NULL,
		version         INTEGER NOT NULL,
		amount          NUMERIC(10, 2) NOT NULL CHECK (amount > 0),
		source          TEXT NOT NULL,
		expiration_date TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL,
		CONSTRAINT deposits_user_type_key UNIQUE (user_id, type)
	)`,
	`CREATE TABLE IF NOT EXISTS beneficiary_imports (
		id             UUID PRIMARY KEY,
		application_id BIGINT NOT NULL,
		source_id      BIGINT NOT NULL,
		source         TEXT NOT NULL,
		user_id        UUID REFERENCES users (id),
		created_at     TIMESTAMPTZ NOT NULL,
		CONSTRAINT beneficiary_imports_application_key UNIQUE (application_id, source_id, source)
	)`,
	`CREATE INDEX IF NOT EXISTS beneficiary_imports_application_idx
		ON beneficiary_imports (application_id)`,
	`CREATE TABLE IF NOT EXISTS beneficiary_import_statuses (
		seq        BIGSERIAL PRIMARY KEY,
		import_id  UUID NOT NULL REFERENCES beneficiary_imports (id),
		status     TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		author     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS beneficiary_import_statuses_import_seq_idx
		ON beneficiary_import_statuses (import_id, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		processed_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_unprocessed_idx
		ON outbox (created_at) WHERE processed_at IS NULL`,
}
