package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"passculture/internal/beneficiaryimport/models"
	"passculture/internal/platform/postgres"
	id "passculture/pkg/domain"
	"passculture/pkg/platform/sentinel"
	txcontext "passculture/pkg/platform/tx"
)

// PostgresStore persists imports and their status ledger. Entry order comes
// from the bigserial seq column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed import ledger.
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

const importColumns = `i.id, i.application_id, i.source_id, i.source, i.user_id, i.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) FindByApplication(ctx context.Context, applicationID id.ApplicationID, sourceID int64, source models.Source) (*models.BeneficiaryImport, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+importColumns+` FROM beneficiary_imports i
		WHERE i.application_id = $1 AND i.source_id = $2 AND i.source = $3`,
		int64(applicationID), sourceID, string(source))
	return s.loadOne(ctx, row, "find import by application")
}

func (s *PostgresStore) FindLatestByApplicationID(ctx context.Context, applicationID id.ApplicationID) (*models.BeneficiaryImport, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+importColumns+` FROM beneficiary_imports i
		LEFT JOIN beneficiary_import_statuses st ON st.import_id = i.id
		WHERE i.application_id = $1
		ORDER BY st.seq DESC NULLS LAST
		LIMIT 1`,
		int64(applicationID))
	return s.loadOne(ctx, row, "find latest import")
}

// Create inserts the import row. The (application_id, source_id, source)
// unique constraint turns a concurrent first sight into sentinel.ErrAlreadyUsed.
func (s *PostgresStore) Create(ctx context.Context, imp *models.BeneficiaryImport) error {
	var userID any
	if imp.UserID != nil {
		userID = uuid.UUID(*imp.UserID)
	}
	// ON CONFLICT keeps the caller's transaction usable when a concurrent
	// first sight wins, so it can read the winner's row.
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO beneficiary_imports (id, application_id, source_id, source, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT `+postgres.ConstraintImportsApplication+` DO NOTHING`,
		uuid.UUID(imp.ID), int64(imp.ApplicationID), imp.SourceID, string(imp.Source), userID, imp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("import for application %s: %w", imp.ApplicationID, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *PostgresStore) SetUser(ctx context.Context, importID id.ImportID, userID id.UserID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE beneficiary_imports SET user_id = $2 WHERE id = $1`,
		uuid.UUID(importID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("set import user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendStatus(ctx context.Context, importID id.ImportID, entry models.StatusEntry) (models.StatusEntry, error) {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO beneficiary_import_statuses (import_id, status, detail, author, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`,
		uuid.UUID(importID), string(entry.Status), entry.Detail, entry.Author, entry.At,
	).Scan(&entry.Seq)
	if err != nil {
		return models.StatusEntry{}, fmt.Errorf("append import status: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListByCurrentStatus(ctx context.Context, status models.ImportStatus, limit int) ([]models.BeneficiaryImport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+importColumns+` FROM beneficiary_imports i
		JOIN LATERAL (
			SELECT st.status FROM beneficiary_import_statuses st
			WHERE st.import_id = i.id
			ORDER BY st.seq DESC
			LIMIT 1
		) cur ON TRUE
		WHERE cur.status = $1
		ORDER BY i.created_at
		LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list imports by status: %w", err)
	}
	var imports []models.BeneficiaryImport
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan import: %w", err)
		}
		imports = append(imports, *imp)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list imports by status: %w", err)
	}
	_ = rows.Close()

	for i := range imports {
		history, err := s.history(ctx, imports[i].ID)
		if err != nil {
			return nil, err
		}
		imports[i].History = history
	}
	return imports, nil
}

func (s *PostgresStore) loadOne(ctx context.Context, row *sql.Row, op string) (*models.BeneficiaryImport, error) {
	imp, err := scanImport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	history, err := s.history(ctx, imp.ID)
	if err != nil {
		return nil, err
	}
	imp.History = history
	return imp, nil
}

func (s *PostgresStore) history(ctx context.Context, importID id.ImportID) ([]models.StatusEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT seq, status, detail, author, created_at
		FROM beneficiary_import_statuses
		WHERE import_id = $1
		ORDER BY seq`,
		uuid.UUID(importID))
	if err != nil {
		return nil, fmt.Errorf("load import history: %w", err)
	}
	defer rows.Close()

	var history []models.StatusEntry
	for rows.Next() {
		var (
			e      models.StatusEntry
			status string
		)
		if err := rows.Scan(&e.Seq, &status, &e.Detail, &e.Author, &e.At); err != nil {
			return nil, fmt.Errorf("scan import status: %w", err)
		}
		e.Status = models.ImportStatus(status)
		history = append(history, e)
	}
	return history, rows.Err()
}

func scanImport(row rowScanner) (*models.BeneficiaryImport, error) {
	var (
		imp           models.BeneficiaryImport
		importID      uuid.UUID
		applicationID int64
		source        string
		userID        uuid.NullUUID
	)
	if err := row.Scan(&importID, &applicationID, &imp.SourceID, &source, &userID, &imp.CreatedAt); err != nil {
		return nil, err
	}
	imp.ID = id.ImportID(importID)
	imp.ApplicationID = id.ApplicationID(applicationID)
	imp.Source = models.Source(source)
	if userID.Valid {
		u := id.UserID(userID.UUID)
		imp.UserID = &u
	}
	return &imp, nil
}
