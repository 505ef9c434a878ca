package service

import (
	"context"
	"log/slog"

	"passculture/internal/beneficiaryimport/models"
	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/platform/tx"
	"passculture/pkg/requestcontext"
)

// ReviewService lets an admin settle imports flagged as DUPLICATE.
type ReviewService struct {
	ledger *Ledger
	tx     tx.Runner
	logger *slog.Logger
}

// NewReviewService constructs a ReviewService over ledger.
func NewReviewService(ledger *Ledger, runner tx.Runner, logger *slog.Logger) *ReviewService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{ledger: ledger, tx: runner, logger: logger}
}

// UpdateStatus moves the import of applicationID to target (REJECTED or
// RETRY). The move is checked against the latest status inside the same unit
// of work as the append, and the authenticated admin is recorded as author.
// A move the transition table forbids fails with ErrInvalidStatusTransition
// before the target restriction is applied.
func (s *ReviewService) UpdateStatus(ctx context.Context, applicationID id.ApplicationID, target models.ImportStatus, detail string) (*models.BeneficiaryImport, error) {
	if _, err := models.ParseImportStatus(string(target)); err != nil {
		return nil, err
	}

	author := "admin"
	if actor := requestcontext.UserID(ctx); !actor.IsNil() {
		author = actor.String()
	}

	var updated *models.BeneficiaryImport
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		imp, err := s.ledger.History(txCtx, applicationID)
		if err != nil {
			return err
		}
		current, ok := imp.CurrentStatus()
		if !ok {
			return notFound(applicationID)
		}
		if err := models.CheckTransition(current, target); err != nil {
			return err
		}
		if target != models.StatusRejected && target != models.StatusRetry {
			return dErrors.New(dErrors.CodeValidation, "review target must be REJECTED or RETRY")
		}
		updated, err = s.ledger.Record(txCtx, RecordRequest{
			ApplicationID: imp.ApplicationID,
			Source:        imp.Source,
			SourceID:      imp.SourceID,
			Status:        target,
			Detail:        detail,
			Author:        author,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "import status reviewed",
		"application_id", applicationID.String(),
		"status", string(target),
		"author", author,
	)
	return updated, nil
}
