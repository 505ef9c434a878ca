package service

import (
	"context"
	"errors"

	importmodels "passculture/internal/beneficiaryimport/models"
	importservice "passculture/internal/beneficiaryimport/service"
	"passculture/internal/eligibility"
	"passculture/internal/identitycheck"
	"passculture/internal/outbox"
	usermodels "passculture/internal/user/models"
	id "passculture/pkg/domain"
	"passculture/pkg/requestcontext"
)

type rejectedEvent struct {
	ApplicationID int64  `json:"application_id"`
	Source        string `json:"source"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail"`
	UserID        string `json:"user_id,omitempty"`
}

// reject records REJECTED or DUPLICATE with its outbox event, then queues the
// rejection email. Nothing else is mutated.
func (s *Service) reject(
	ctx context.Context,
	req ProcessRequest,
	app *identitycheck.ApplicationPayload,
	existing *usermodels.User,
	decision eligibility.Decision,
) (*Result, error) {
	status, outcome, eventType := importmodels.StatusRejected, OutcomeRejected, outbox.EventBeneficiaryRejected
	if !decision.Rejected {
		status, outcome, eventType = importmodels.StatusDuplicate, OutcomeDuplicate, outbox.EventBeneficiaryDuplicate
	}

	var userID *id.UserID
	if existing != nil {
		uid := existing.ID
		userID = &uid
	}

	var settled importmodels.ImportStatus
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		// A concurrent run may have settled the application since the pre-checks.
		current, err := s.ledger.CurrentStatus(txCtx, req.ApplicationID)
		if err == nil && current != importmodels.StatusRetry {
			settled = current
			return nil
		}
		if err != nil && !errors.Is(err, importmodels.ErrImportNotFound) {
			return err
		}

		if _, err := s.ledger.Record(txCtx, importservice.RecordRequest{
			ApplicationID: req.ApplicationID,
			Source:        req.Source,
			SourceID:      req.SourceID,
			Status:        status,
			Detail:        decision.Detail,
			Author:        systemAuthor,
			UserID:        userID,
		}); err != nil {
			return err
		}
		payload := rejectedEvent{
			ApplicationID: int64(req.ApplicationID),
			Source:        string(req.Source),
			Status:        string(status),
			Reason:        string(decision.Reason),
			Detail:        decision.Detail,
		}
		if userID != nil {
			payload.UserID = userID.String()
		}
		event, err := outbox.NewEvent(outbox.AggregateBeneficiaryImport, req.ApplicationID.String(), eventType, payload, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		return s.outbox.Append(txCtx, event)
	})
	if err != nil {
		return nil, err
	}
	if settled != "" {
		return &Result{
			ApplicationID: req.ApplicationID,
			Outcome:       OutcomeAlreadyProcessed,
			Status:        settled,
			Reason:        eligibility.ReasonAlreadyImported,
		}, nil
	}

	s.logger.InfoContext(ctx, "application not activated",
		"application_id", req.ApplicationID.String(),
		"status", string(status),
		"reason", string(decision.Reason),
	)
	if err := s.notifier.SendRejectionEmail(ctx, app, string(decision.Reason)); err != nil {
		s.logger.WarnContext(ctx, "failed to queue rejection email",
			"application_id", req.ApplicationID.String(),
			"error", err,
		)
	}

	return &Result{
		ApplicationID: req.ApplicationID,
		Outcome:       outcome,
		Status:        status,
		Reason:        decision.Reason,
		Detail:        decision.Detail,
		UserID:        userID,
	}, nil
}
