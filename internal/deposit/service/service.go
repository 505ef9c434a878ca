// Package service is the deposit ledger: it creates the unique deposit per
// (user, eligibility type) through the caller's unit of work.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"passculture/internal/deposit/models"
	"passculture/internal/deposit/policy"
	"passculture/internal/featureflags"
	usermodels "passculture/internal/user/models"
	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/requestcontext"
)

type Store interface {
	FindByUserAndType(ctx context.Context, userID id.UserID, t models.EligibilityType) (*models.Deposit, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]models.Deposit, error)
	Create(ctx context.Context, deposit *models.Deposit) error
}

// Service grants deposits. It never commits; atomicity with the role flag is
// the caller's unit of work.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDeposit grants one deposit of type t to user. A nil version resolves
// the active version from flags. An existing deposit of the same type, found
// up front or via the unique index, yields ErrDepositTypeAlreadyGranted.
func (s *Service) CreateDeposit(
	ctx context.Context,
	user *usermodels.User,
	t models.EligibilityType,
	source string,
	version *int,
	flags featureflags.Flags,
) (*models.Deposit, error) {
	if user == nil || user.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "deposit requires a user")
	}

	existing, err := s.store.FindByUserAndType(ctx, user.ID, t)
	if err == nil && existing != nil {
		return nil, alreadyGranted(t)
	}
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing deposit")
	}

	v := 0
	if version != nil {
		v = *version
	} else {
		v, err = policy.CurrentVersionFor(t, flags)
		if err != nil {
			return nil, err
		}
	}
	grant, err := policy.Compute(t, v)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	expiresAt, err := grant.Expiry.ExpiresAt(now, user.DateOfBirth)
	if err != nil {
		return nil, err
	}

	deposit := &models.Deposit{
		ID:             id.NewDepositID(),
		UserID:         user.ID,
		Type:           t,
		Version:        grant.Version,
		Amount:         grant.Cap,
		Source:         source,
		ExpirationDate: &expiresAt,
		CreatedAt:      now,
	}
	if err := s.store.Create(ctx, deposit); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, alreadyGranted(t)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create deposit")
	}

	s.logger.InfoContext(ctx, "deposit created",
		"user_id", user.ID.String(),
		"deposit_id", deposit.ID.String(),
		"type", string(t),
		"version", grant.Version,
		"amount", grant.Cap.StringFixed(2),
	)
	return deposit, nil
}

// ListForUser returns all deposits owned by userID.
func (s *Service) ListForUser(ctx context.Context, userID id.UserID) ([]models.Deposit, error) {
	deposits, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list deposits")
	}
	return deposits, nil
}

func alreadyGranted(t models.EligibilityType) error {
	return dErrors.Wrap(models.ErrDepositTypeAlreadyGranted, dErrors.CodeConflict,
		fmt.Sprintf("user already holds a %s deposit", t))
}
