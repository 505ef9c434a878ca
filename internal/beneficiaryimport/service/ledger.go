// Package service owns the beneficiary import ledger and the admin review of
// import statuses.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"passculture/internal/beneficiaryimport/models"
	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/platform/tx"
	"passculture/pkg/requestcontext"
)

// Store persists imports and appends to their status history.
type Store interface {
	FindByApplication(ctx context.Context, applicationID id.ApplicationID, sourceID int64, source models.Source) (*models.BeneficiaryImport, error)
	FindLatestByApplicationID(ctx context.Context, applicationID id.ApplicationID) (*models.BeneficiaryImport, error)
	Create(ctx context.Context, imp *models.BeneficiaryImport) error
	SetUser(ctx context.Context, importID id.ImportID, userID id.UserID) error
	AppendStatus(ctx context.Context, importID id.ImportID, entry models.StatusEntry) (models.StatusEntry, error)
	ListByCurrentStatus(ctx context.Context, status models.ImportStatus, limit int) ([]models.BeneficiaryImport, error)
}

// RecordRequest describes one ledger append.
type RecordRequest struct {
	ApplicationID id.ApplicationID
	Source        models.Source
	SourceID      int64
	Status        models.ImportStatus
	Detail        string
	Author        string
	UserID        *id.UserID
}

// Ledger is the append-only import status ledger. It does not enforce the
// review transition policy; see ReviewService.
type Ledger struct {
	store  Store
	tx     tx.Runner
	logger *slog.Logger
}

type LedgerOption func(l *Ledger)

func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger constructs a Ledger. Record runs inside runner and joins the
// caller's unit of work when one is open.
func NewLedger(store Store, runner tx.Runner, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store, tx: runner, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends req.Status to the import identified by (application id,
// source id, source), creating the import on first sight. Appending RETRY to
// an import already in RETRY records nothing.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*models.BeneficiaryImport, error) {
	if _, err := models.ParseImportStatus(string(req.Status)); err != nil {
		return nil, err
	}
	if _, err := models.ParseSource(string(req.Source)); err != nil {
		return nil, err
	}
	if req.Status == models.StatusCreated && (req.UserID == nil || req.UserID.IsNil()) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "CREATED import requires a user")
	}
	if req.SourceID == 0 && req.Source == models.SourceJouve {
		req.SourceID = models.JouveSourceID
	}

	var result *models.BeneficiaryImport
	err := l.tx.RunInTx(ctx, func(txCtx context.Context) error {
		imp, err := l.findOrCreate(txCtx, req)
		if err != nil {
			return err
		}
		if req.UserID != nil && !req.UserID.IsNil() && (imp.UserID == nil || *imp.UserID != *req.UserID) {
			if err := l.store.SetUser(txCtx, imp.ID, *req.UserID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to link import to user")
			}
			uid := *req.UserID
			imp.UserID = &uid
		}

		if current, ok := imp.CurrentStatus(); ok && current == models.StatusRetry && req.Status == models.StatusRetry {
			result = imp
			return nil
		}

		entry, err := l.store.AppendStatus(txCtx, imp.ID, models.StatusEntry{
			Status: req.Status,
			Detail: req.Detail,
			Author: req.Author,
			At:     requestcontext.Now(txCtx),
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append import status")
		}
		imp.History = append(imp.History, entry)
		result = imp
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "import status recorded",
		"application_id", req.ApplicationID.String(),
		"source", string(req.Source),
		"status", string(req.Status),
	)
	return result, nil
}

func (l *Ledger) findOrCreate(ctx context.Context, req RecordRequest) (*models.BeneficiaryImport, error) {
	imp, err := l.store.FindByApplication(ctx, req.ApplicationID, req.SourceID, req.Source)
	if err == nil {
		return imp, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load import")
	}

	imp = &models.BeneficiaryImport{
		ID:            id.NewImportID(),
		ApplicationID: req.ApplicationID,
		SourceID:      req.SourceID,
		Source:        req.Source,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := l.store.Create(ctx, imp); err != nil {
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create import")
		}
		// Lost a first-sight race; append to the winner's import.
		imp, err = l.store.FindByApplication(ctx, req.ApplicationID, req.SourceID, req.Source)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load import")
		}
	}
	return imp, nil
}

// CurrentStatus returns the latest status recorded for applicationID across
// sources.
func (l *Ledger) CurrentStatus(ctx context.Context, applicationID id.ApplicationID) (models.ImportStatus, error) {
	imp, err := l.History(ctx, applicationID)
	if err != nil {
		return "", err
	}
	status, ok := imp.CurrentStatus()
	if !ok {
		return "", notFound(applicationID)
	}
	return status, nil
}

// IsAlreadyImported reports whether applicationID has an import whose current
// status is anything but RETRY.
func (l *Ledger) IsAlreadyImported(ctx context.Context, applicationID id.ApplicationID) (bool, error) {
	status, err := l.CurrentStatus(ctx, applicationID)
	if err != nil {
		if errors.Is(err, models.ErrImportNotFound) {
			return false, nil
		}
		return false, err
	}
	return status != models.StatusRetry, nil
}

// History returns the import of applicationID with its ordered status history.
func (l *Ledger) History(ctx context.Context, applicationID id.ApplicationID) (*models.BeneficiaryImport, error) {
	imp, err := l.store.FindLatestByApplicationID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, notFound(applicationID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load import")
	}
	return imp, nil
}

// ListCurrentlyIn lists imports whose current status is status.
func (l *Ledger) ListCurrentlyIn(ctx context.Context, status models.ImportStatus, limit int) ([]models.BeneficiaryImport, error) {
	if _, err := models.ParseImportStatus(string(status)); err != nil {
		return nil, err
	}
	imports, err := l.store.ListByCurrentStatus(ctx, status, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list imports")
	}
	return imports, nil
}

func notFound(applicationID id.ApplicationID) error {
	return dErrors.Wrap(models.ErrImportNotFound, dErrors.CodeNotFound,
		fmt.Sprintf("no import for application %s", applicationID))
}
