package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	importmodels "passculture/internal/beneficiaryimport/models"
	importservice "passculture/internal/beneficiaryimport/service"
	depositmodels "passculture/internal/deposit/models"
	"passculture/internal/eligibility"
	"passculture/internal/featureflags"
	"passculture/internal/identitycheck"
	"passculture/internal/outbox"
	usermodels "passculture/internal/user/models"
	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/email"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/requestcontext"
)

// errEmailTaken signals that a concurrent activation created the account
// between our lookup and insert.
var errEmailTaken = errors.New("email taken by concurrent activation")

type activatedEvent struct {
	ApplicationID  int64  `json:"application_id"`
	Source         string `json:"source"`
	UserID         string `json:"user_id"`
	DepositID      string `json:"deposit_id"`
	DepositType    string `json:"deposit_type"`
	DepositVersion int    `json:"deposit_version"`
	Amount         string `json:"amount"`
	ExpirationDate string `json:"expiration_date,omitempty"`
}

type activation struct {
	user    *usermodels.User
	deposit *depositmodels.Deposit
	created bool
	noop    bool
}

// activate runs the eligible path. The unit of work is retried once when the
// account was created concurrently; the retry locks the winner's row.
func (s *Service) activate(
	ctx context.Context,
	req ProcessRequest,
	app *identitycheck.ApplicationPayload,
	flags featureflags.Flags,
	decision eligibility.Decision,
) (*Result, error) {
	var (
		done *activation
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		done, err = s.activateOnce(ctx, req, app, flags, decision)
		if !errors.Is(err, errEmailTaken) {
			break
		}
		s.logger.InfoContext(ctx, "account created concurrently, retrying activation",
			"application_id", req.ApplicationID.String(),
		)
	}
	if errors.Is(err, errEmailTaken) {
		return nil, dErrors.Wrap(sentinel.ErrAlreadyUsed, dErrors.CodeConflict, "account created concurrently twice")
	}
	if errors.Is(err, depositmodels.ErrDepositTypeAlreadyGranted) {
		if user, lookupErr := s.users.FindByEmail(ctx, email.Normalize(app.Email)); lookupErr == nil && user.IsBeneficiary {
			return s.alreadyBeneficiary(ctx, req, user), nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if done.noop {
		return s.alreadyBeneficiary(ctx, req, done.user), nil
	}

	if done.created {
		s.platform.IncrementUsersCreated()
	}
	s.metrics.IncrementDepositGranted(string(done.deposit.Type), done.deposit.Version)
	s.logger.InfoContext(ctx, "beneficiary activated",
		"application_id", req.ApplicationID.String(),
		"user_id", done.user.ID.String(),
		"deposit_id", done.deposit.ID.String(),
		"type", string(done.deposit.Type),
	)
	if err := s.notifier.SendActivationEmail(ctx, done.user); err != nil {
		s.logger.WarnContext(ctx, "failed to queue activation email",
			"user_id", done.user.ID.String(),
			"error", err,
		)
	}

	userID := done.user.ID
	return &Result{
		ApplicationID: req.ApplicationID,
		Outcome:       OutcomeActivated,
		Status:        importmodels.StatusCreated,
		UserID:        &userID,
		Deposit:       done.deposit,
	}, nil
}

func (s *Service) activateOnce(
	ctx context.Context,
	req ProcessRequest,
	app *identitycheck.ApplicationPayload,
	flags featureflags.Flags,
	decision eligibility.Decision,
) (*activation, error) {
	ctx, span := s.tracer.Start(ctx, "activation.unit_of_work")
	defer span.End()

	var done *activation
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx)
		user, created, err := s.lockOrCreateUser(txCtx, app, now)
		if err != nil {
			return err
		}
		if user.IsBeneficiary {
			done = &activation{user: user, noop: true}
			return nil
		}
		deposit, err := s.deposits.CreateDeposit(txCtx, user, decision.Type, depositSource(req), nil, flags)
		if err != nil {
			return err
		}

		user.MarkBeneficiary(now)
		if err := s.users.Update(txCtx, user); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update beneficiary")
		}

		userID := user.ID
		if _, err := s.ledger.Record(txCtx, importservice.RecordRequest{
			ApplicationID: req.ApplicationID,
			Source:        req.Source,
			SourceID:      req.SourceID,
			Status:        importmodels.StatusCreated,
			Author:        systemAuthor,
			UserID:        &userID,
		}); err != nil {
			return err
		}

		event, err := outbox.NewEvent(outbox.AggregateBeneficiaryImport, req.ApplicationID.String(),
			outbox.EventBeneficiaryActivated, newActivatedEvent(req, user.ID, deposit), now)
		if err != nil {
			return err
		}
		if err := s.outbox.Append(txCtx, event); err != nil {
			return err
		}

		done = &activation{user: user, deposit: deposit, created: created}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("noop", done.noop))
	return done, nil
}

// lockOrCreateUser returns the account for the application email with the
// verified identity applied. An existing account is row-locked first.
func (s *Service) lockOrCreateUser(ctx context.Context, app *identitycheck.ApplicationPayload, now time.Time) (*usermodels.User, bool, error) {
	identity := usermodels.Identity{
		FirstName:      app.FirstName,
		LastName:       app.LastName,
		DateOfBirth:    app.DateOfBirth,
		Phone:          app.Phone,
		PostalCode:     app.PostalCode,
		DepartmentCode: app.DepartmentCode,
		Civility:       app.Civility,
		Activity:       app.Activity,
	}

	existing, err := s.users.FindByEmail(ctx, email.Normalize(app.Email))
	switch {
	case err == nil:
		user, err := s.users.LockAndGet(ctx, existing.ID)
		if err != nil {
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock user")
		}
		if !user.IsBeneficiary {
			user.ApplyIdentity(identity, now)
		}
		return user, false, nil
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user by email")
	}

	user, err := usermodels.NewUser(id.NewUserID(), app.Email, now)
	if err != nil {
		return nil, false, err
	}
	user.ApplyIdentity(identity, now)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, false, errEmailTaken
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return user, true, nil
}

func (s *Service) alreadyBeneficiary(ctx context.Context, req ProcessRequest, user *usermodels.User) *Result {
	s.logger.InfoContext(ctx, "user already beneficiary, activation skipped",
		"application_id", req.ApplicationID.String(),
		"user_id", user.ID.String(),
	)
	userID := user.ID
	return &Result{
		ApplicationID: req.ApplicationID,
		Outcome:       OutcomeAlreadyBeneficiary,
		UserID:        &userID,
	}
}

func newActivatedEvent(req ProcessRequest, userID id.UserID, d *depositmodels.Deposit) activatedEvent {
	e := activatedEvent{
		ApplicationID:  int64(req.ApplicationID),
		Source:         string(req.Source),
		UserID:         userID.String(),
		DepositID:      d.ID.String(),
		DepositType:    string(d.Type),
		DepositVersion: d.Version,
		Amount:         d.Amount.StringFixed(2),
	}
	if d.ExpirationDate != nil {
		e.ExpirationDate = d.ExpirationDate.Format(time.RFC3339)
	}
	return e
}
