package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"passculture/internal/activation/metrics"
	importmodels "passculture/internal/beneficiaryimport/models"
	importservice "passculture/internal/beneficiaryimport/service"
	importstore "passculture/internal/beneficiaryimport/store"
	depositmodels "passculture/internal/deposit/models"
	depositservice "passculture/internal/deposit/service"
	depositstore "passculture/internal/deposit/store"
	"passculture/internal/eligibility"
	"passculture/internal/featureflags"
	"passculture/internal/identitycheck"
	"passculture/internal/notification/mocks"
	"passculture/internal/outbox"
	usermodels "passculture/internal/user/models"
	userstore "passculture/internal/user/store"
	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/platform/tx"
	"passculture/pkg/requestcontext"
)

var today = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type ActivationServiceSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	notifier *mocks.MockNotifier
	provider *identitycheck.InMemoryProvider
	users    *userstore.InMemory
	deposits *depositstore.InMemory
	imports  *importstore.InMemory
	outbox   *outbox.InMemory
	runner   *tx.InMemory
	ledger   *importservice.Ledger
	flags    featureflags.Flags
}

func TestActivationServiceSuite(t *testing.T) {
	suite.Run(t, new(ActivationServiceSuite))
}

func (s *ActivationServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), today)
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.provider = identitycheck.NewInMemoryProvider()
	s.users = userstore.NewInMemory()
	s.deposits = depositstore.NewInMemory()
	s.imports = importstore.NewInMemory()
	s.outbox = outbox.NewInMemory()
	s.runner = tx.NewInMemory(0)
	s.ledger = importservice.NewLedger(s.imports, s.runner)
	s.flags = featureflags.Flags{
		DepositVersions: map[depositmodels.EligibilityType]int{depositmodels.EligibilityAge18: 2},
	}
}

func (s *ActivationServiceSuite) service(override func(d *Deps)) *Service {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := Deps{
		Provider: s.provider,
		Flags:    featureflags.Static{Flags: s.flags},
		Users:    s.users,
		Deposits: depositservice.New(s.deposits, depositservice.WithLogger(discard)),
		Ledger:   s.ledger,
		Outbox:   s.outbox,
		Notifier: s.notifier,
		Tx:       s.runner,
	}
	if override != nil {
		override(&deps)
	}
	svc, err := New(deps, WithLogger(discard))
	s.Require().NoError(err)
	return svc
}

func (s *ActivationServiceSuite) putApplication(applicationID id.ApplicationID, address string, dob time.Time) identitycheck.ApplicationPayload {
	app := identitycheck.ApplicationPayload{
		ApplicationID:  applicationID,
		Source:         importmodels.SourceJouve,
		FirstName:      "Camille",
		LastName:       fmt.Sprintf("Martin-%d", applicationID),
		DateOfBirth:    dob,
		Email:          address,
		PostalCode:     "75011",
		DepartmentCode: "75",
	}
	s.provider.Put(app)
	return app
}

func request(applicationID id.ApplicationID) ProcessRequest {
	return ProcessRequest{ApplicationID: applicationID, Source: importmodels.SourceJouve}
}

func (s *ActivationServiceSuite) seedUser(address string, beneficiary bool) *usermodels.User {
	u, err := usermodels.NewUser(id.NewUserID(), address, today)
	s.Require().NoError(err)
	u.IsBeneficiary = beneficiary
	s.Require().NoError(s.users.Create(context.Background(), u))
	return u
}

func (s *ActivationServiceSuite) depositsOf(userID id.UserID) []depositmodels.Deposit {
	deposits, err := s.deposits.ListByUser(context.Background(), userID)
	s.Require().NoError(err)
	return deposits
}

func (s *ActivationServiceSuite) currentStatus(applicationID id.ApplicationID) (importmodels.ImportStatus, error) {
	return s.ledger.CurrentStatus(context.Background(), applicationID)
}

func (s *ActivationServiceSuite) TestEligibleApplicationIsActivated() {
	s.putApplication(42, "Camille@Example.com", today.AddDate(-18, 0, 0))
	s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(nil)

	result, err := s.service(nil).Process(s.ctx, request(42))
	s.Require().NoError(err)
	s.Equal(OutcomeActivated, result.Outcome)
	s.Equal(importmodels.StatusCreated, result.Status)
	s.Require().NotNil(result.Deposit)
	s.Equal(depositmodels.EligibilityAge18, result.Deposit.Type)
	s.Equal(2, result.Deposit.Version)
	s.True(result.Deposit.Amount.Equal(decimal.RequireFromString("300")))
	s.Equal("dossier jouve [42]", result.Deposit.Source)

	user, err := s.users.FindByEmail(context.Background(), "camille@example.com")
	s.Require().NoError(err)
	s.True(user.IsBeneficiary)
	s.Equal("Martin-42", user.LastName)
	s.Equal("75", user.DepartmentCode)
	s.Equal(user.ID, *result.UserID)
	s.Len(s.depositsOf(user.ID), 1)

	status, err := s.currentStatus(42)
	s.Require().NoError(err)
	s.Equal(importmodels.StatusCreated, status)

	imp, err := s.ledger.History(context.Background(), 42)
	s.Require().NoError(err)
	s.Require().NotNil(imp.UserID)
	s.Equal(user.ID, *imp.UserID)

	events := s.outbox.Events()
	s.Require().Len(events, 1)
	s.Equal(outbox.EventBeneficiaryActivated, events[0].EventType)
	s.Equal("42", events[0].AggregateID)
}

func (s *ActivationServiceSuite) TestSecondProcessingIsNoop() {
	s.putApplication(42, "camille@example.com", today.AddDate(-19, 0, 0))
	s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	svc := s.service(nil)

	_, err := svc.Process(s.ctx, request(42))
	s.Require().NoError(err)
	result, err := svc.Process(s.ctx, request(42))
	s.Require().NoError(err)
	s.Equal(OutcomeAlreadyProcessed, result.Outcome)
	s.Equal(eligibility.ReasonAlreadyImported, result.Reason)

	user, err := s.users.FindByEmail(context.Background(), "camille@example.com")
	s.Require().NoError(err)
	s.Len(s.depositsOf(user.ID), 1)
	s.Len(s.outbox.Events(), 1)

	imp, err := s.ledger.History(context.Background(), 42)
	s.Require().NoError(err)
	s.Len(imp.History, 1)
}

func (s *ActivationServiceSuite) TestEmailOfExistingBeneficiaryIsRejected() {
	existing := s.seedUser("taken@example.com", true)
	app := s.putApplication(43, "taken@example.com", today.AddDate(-20, 0, 0))
	s.notifier.EXPECT().
		SendRejectionEmail(gomock.Any(), gomock.Any(), string(eligibility.ReasonAlreadyBeneficiary)).
		DoAndReturn(func(_ context.Context, payload *identitycheck.ApplicationPayload, _ string) error {
			s.Equal(app.Email, payload.Email)
			return nil
		})

	result, err := s.service(nil).Process(s.ctx, request(43))
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(importmodels.StatusRejected, result.Status)
	s.Equal(eligibility.ReasonAlreadyBeneficiary, result.Reason)

	status, err := s.currentStatus(43)
	s.Require().NoError(err)
	s.Equal(importmodels.StatusRejected, status)
	s.Empty(s.depositsOf(existing.ID))

	events := s.outbox.Events()
	s.Require().Len(events, 1)
	s.Equal(outbox.EventBeneficiaryRejected, events[0].EventType)
}

func (s *ActivationServiceSuite) TestUnderageRejectionLeavesUserUntouched() {
	existing := s.seedUser("young@example.com", false)
	s.putApplication(50, "young@example.com", today.AddDate(-18, 0, 1))
	s.notifier.EXPECT().SendRejectionEmail(gomock.Any(), gomock.Any(), string(eligibility.ReasonUnderage)).Return(nil)

	result, err := s.service(nil).Process(s.ctx, request(50))
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(eligibility.ReasonUnderage, result.Reason)

	user, err := s.users.FindByEmail(context.Background(), "young@example.com")
	s.Require().NoError(err)
	s.False(user.IsBeneficiary)
	s.Empty(s.depositsOf(existing.ID))
}

func (s *ActivationServiceSuite) TestUnderageTrackWhenRequestedAndEnabled() {
	s.flags.UnderageEligibility = true
	s.putApplication(51, "teen@example.com", today.AddDate(-16, 0, 0))
	s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(nil)

	underage := depositmodels.EligibilityUnderage
	req := request(51)
	req.RequestedType = &underage
	result, err := s.service(nil).Process(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(OutcomeActivated, result.Outcome)
	s.Equal(depositmodels.EligibilityUnderage, result.Deposit.Type)
	s.True(result.Deposit.Amount.Equal(decimal.RequireFromString("30")))
	s.Require().NotNil(result.Deposit.ExpirationDate)
	s.Equal(today.AddDate(2, 0, 0).Year(), result.Deposit.ExpirationDate.Year())
}

func (s *ActivationServiceSuite) TestIdentityDuplicateIsRecordedAsDuplicate() {
	dob := today.AddDate(-19, 0, 0)
	twin := s.seedUser("first@example.com", true)
	twin.FirstName, twin.LastName, twin.DateOfBirth = "Camille", "Martin-60", &dob
	s.Require().NoError(s.users.Update(context.Background(), twin))

	s.putApplication(60, "second@example.com", dob)
	s.notifier.EXPECT().SendRejectionEmail(gomock.Any(), gomock.Any(), string(eligibility.ReasonDuplicateIdentity)).Return(nil)

	result, err := s.service(nil).Process(s.ctx, request(60))
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, result.Outcome)
	s.Equal(importmodels.StatusDuplicate, result.Status)

	_, err = s.users.FindByEmail(context.Background(), "second@example.com")
	s.ErrorIs(err, sentinel.ErrNotFound, "no account created")
	s.Equal(outbox.EventBeneficiaryDuplicate, s.outbox.Events()[0].EventType)
}

func (s *ActivationServiceSuite) TestRetryStatusIsProcessedAgain() {
	s.putApplication(70, "retry@example.com", today.AddDate(-18, -1, 0))
	_, err := s.ledger.Record(s.ctx, importservice.RecordRequest{
		ApplicationID: 70,
		Source:        importmodels.SourceJouve,
		Status:        importmodels.StatusRetry,
	})
	s.Require().NoError(err)
	s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(nil)

	result, err := s.service(nil).Process(s.ctx, request(70))
	s.Require().NoError(err)
	s.Equal(OutcomeActivated, result.Outcome)

	imp, err := s.ledger.History(context.Background(), 70)
	s.Require().NoError(err)
	s.Len(imp.History, 2)
}

func (s *ActivationServiceSuite) TestProviderFailureMutatesNothing() {
	s.provider.FailWith(errors.New("jouve unreachable"))

	_, err := s.service(nil).Process(s.ctx, request(42))
	var fetchErr *identitycheck.ApplicationFetchError
	s.Require().ErrorAs(err, &fetchErr)
	s.True(fetchErr.Retryable())

	_, err = s.currentStatus(42)
	s.ErrorIs(err, importmodels.ErrImportNotFound)
	s.Empty(s.outbox.Events())
}

func (s *ActivationServiceSuite) TestFailureInUnitOfWorkRollsBackEverything() {
	s.putApplication(42, "camille@example.com", today.AddDate(-18, 0, 0))
	boom := errors.New("outbox unavailable")

	_, err := s.service(func(d *Deps) {
		d.Outbox = failingAppender{err: boom}
	}).Process(s.ctx, request(42))
	s.ErrorIs(err, boom)

	_, err = s.users.FindByEmail(context.Background(), "camille@example.com")
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.currentStatus(42)
	s.ErrorIs(err, importmodels.ErrImportNotFound)
}

func (s *ActivationServiceSuite) TestLockedUserAlreadyBeneficiaryIsNoop() {
	existing := s.seedUser("camille@example.com", true)
	s.putApplication(80, "camille@example.com", today.AddDate(-18, 0, 0))

	result, err := s.service(func(d *Deps) {
		d.Users = &staleFirstLookup{InMemory: s.users}
	}).Process(s.ctx, request(80))
	s.Require().NoError(err)
	s.Equal(OutcomeAlreadyBeneficiary, result.Outcome)
	s.Empty(s.depositsOf(existing.ID))
}

func (s *ActivationServiceSuite) TestDepositAlreadyGrantedWithoutFlagPropagates() {
	existing := s.seedUser("camille@example.com", false)
	s.Require().NoError(s.deposits.Create(context.Background(), &depositmodels.Deposit{
		ID:        id.NewDepositID(),
		UserID:    existing.ID,
		Type:      depositmodels.EligibilityAge18,
		Version:   1,
		Amount:    decimal.RequireFromString("500"),
		CreatedAt: today,
	}))
	s.putApplication(90, "camille@example.com", today.AddDate(-18, 0, 0))

	_, err := s.service(nil).Process(s.ctx, request(90))
	s.ErrorIs(err, depositmodels.ErrDepositTypeAlreadyGranted)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	user, err := s.users.FindByEmail(context.Background(), "camille@example.com")
	s.Require().NoError(err)
	s.False(user.IsBeneficiary, "role flag not applied")
	_, err = s.currentStatus(90)
	s.ErrorIs(err, importmodels.ErrImportNotFound)
}

func (s *ActivationServiceSuite) TestEmailRaceRetriesOnWinnerRow() {
	s.putApplication(42, "camille@example.com", today.AddDate(-18, 0, 0))
	racing := &racingCreate{InMemory: s.users, s: s}
	s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(nil)

	result, err := s.service(func(d *Deps) { d.Users = racing }).Process(s.ctx, request(42))
	s.Require().NoError(err)
	s.Equal(OutcomeActivated, result.Outcome)
	s.Equal(racing.winner.ID, *result.UserID)
	s.Len(s.depositsOf(racing.winner.ID), 1)
}

func (s *ActivationServiceSuite) TestConcurrentProcessingGrantsOneDeposit() {
	s.putApplication(42, "camille@example.com", today.AddDate(-18, 0, 0))
	s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	svc := s.service(nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Process(s.ctx, request(42))
			s.NoError(err)
		}()
	}
	wg.Wait()

	user, err := s.users.FindByEmail(context.Background(), "camille@example.com")
	s.Require().NoError(err)
	s.True(user.IsBeneficiary)
	s.Len(s.depositsOf(user.ID), 1)
}

func (s *ActivationServiceSuite) TestNotifierFailureDoesNotFailActivation() {
	s.putApplication(42, "camille@example.com", today.AddDate(-18, 0, 0))
	s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(errors.New("amqp down"))

	result, err := s.service(nil).Process(s.ctx, request(42))
	s.Require().NoError(err)
	s.Equal(OutcomeActivated, result.Outcome)
}

func (s *ActivationServiceSuite) TestSourceRouting() {
	s.Run("source without a provider is refused before any fetch", func() {
		s.putApplication(100, "dms@example.com", today.AddDate(-19, 0, 0))

		_, err := s.service(nil).Process(s.ctx, ProcessRequest{ApplicationID: 100, Source: importmodels.SourceDMS})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.currentStatus(100)
		s.ErrorIs(err, importmodels.ErrImportNotFound)
	})

	s.Run("payload from another source is refused", func() {
		s.putApplication(101, "mixed@example.com", today.AddDate(-19, 0, 0))
		svc := s.service(nil)
		svc.providers[importmodels.SourceDMS] = s.provider

		_, err := svc.Process(s.ctx, ProcessRequest{ApplicationID: 101, Source: importmodels.SourceDMS})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.currentStatus(101)
		s.ErrorIs(err, importmodels.ErrImportNotFound)
		_, err = s.users.FindByEmail(context.Background(), "mixed@example.com")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("registered provider serves its own source", func() {
		dms := identitycheck.NewInMemoryProvider()
		app := s.putApplication(102, "folder@example.com", today.AddDate(-19, 0, 0))
		app.Source = importmodels.SourceDMS
		dms.Put(app)
		s.notifier.EXPECT().SendActivationEmail(gomock.Any(), gomock.Any()).Return(nil)

		discard := slog.New(slog.NewTextHandler(io.Discard, nil))
		svc, err := New(Deps{
			Provider: s.provider,
			Flags:    featureflags.Static{Flags: s.flags},
			Users:    s.users,
			Deposits: depositservice.New(s.deposits, depositservice.WithLogger(discard)),
			Ledger:   s.ledger,
			Outbox:   s.outbox,
			Notifier: s.notifier,
			Tx:       s.runner,
		}, WithLogger(discard), WithProvider(importmodels.SourceDMS, dms))
		s.Require().NoError(err)

		result, err := svc.Process(s.ctx, ProcessRequest{ApplicationID: 102, Source: importmodels.SourceDMS, SourceID: 7})
		s.Require().NoError(err)
		s.Equal(OutcomeActivated, result.Outcome)
		s.Equal("dossier dms [102]", result.Deposit.Source)
	})
}

func (s *ActivationServiceSuite) TestMalformedApplicationIsRejectedNotRetried() {
	app := s.putApplication(110, "broken@example.com", time.Time{})
	app.Invalid = `invalid birth date "2006-03-05"`
	s.provider.Put(app)
	s.notifier.EXPECT().
		SendRejectionEmail(gomock.Any(), gomock.Any(), string(eligibility.ReasonInvalidApplication)).
		Return(nil)

	result, err := s.service(nil).Process(s.ctx, request(110))
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(eligibility.ReasonInvalidApplication, result.Reason)

	status, err := s.currentStatus(110)
	s.Require().NoError(err)
	s.Equal(importmodels.StatusRejected, status)
}

func (s *ActivationServiceSuite) TestFlagsFailureIsNotCountedAsFetchFailure() {
	m := metrics.New()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(Deps{
		Provider: cancelledProvider{},
		Flags:    failingFlags{err: errors.New("redis down")},
		Users:    s.users,
		Deposits: depositservice.New(s.deposits, depositservice.WithLogger(discard)),
		Ledger:   s.ledger,
		Outbox:   s.outbox,
		Notifier: s.notifier,
		Tx:       s.runner,
	}, WithLogger(discard), WithMetrics(m))
	s.Require().NoError(err)

	_, err = svc.Process(s.ctx, request(42))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(0.0, testutil.ToFloat64(m.FetchFailures))

	s.provider.FailWith(errors.New("jouve unreachable"))
	svc, err = New(Deps{
		Provider: s.provider,
		Flags:    featureflags.Static{Flags: s.flags},
		Users:    s.users,
		Deposits: depositservice.New(s.deposits, depositservice.WithLogger(discard)),
		Ledger:   s.ledger,
		Outbox:   s.outbox,
		Notifier: s.notifier,
		Tx:       s.runner,
	}, WithLogger(discard), WithMetrics(m))
	s.Require().NoError(err)
	_, err = svc.Process(s.ctx, request(42))
	s.Error(err)
	s.Equal(1.0, testutil.ToFloat64(m.FetchFailures))
}

func (s *ActivationServiceSuite) TestInvalidRequest() {
	_, err := s.service(nil).Process(s.ctx, ProcessRequest{ApplicationID: 0, Source: importmodels.SourceJouve})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.service(nil).Process(s.ctx, ProcessRequest{ApplicationID: 1, Source: "ubble"})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ActivationServiceSuite) TestNewRequiresDependencies() {
	_, err := New(Deps{})
	s.Error(err)
}

type failingAppender struct{ err error }

type failingFlags struct{ err error }

func (f failingFlags) Load(context.Context) (featureflags.Flags, error) {
	return featureflags.Flags{}, f.err
}

// cancelledProvider fails only once its context is cancelled.
type cancelledProvider struct{}

func (cancelledProvider) GetApplication(ctx context.Context, _ id.ApplicationID) (*identitycheck.ApplicationPayload, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f failingAppender) Append(context.Context, outbox.Event) error { return f.err }

// staleFirstLookup serves the pre-check a copy of the user that is not yet a
// beneficiary, as if the flag had been set between the read and the lock.
type staleFirstLookup struct {
	*userstore.InMemory
	mu     sync.Mutex
	served bool
}

func (s *staleFirstLookup) FindByEmail(ctx context.Context, address string) (*usermodels.User, error) {
	u, err := s.InMemory.FindByEmail(ctx, address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && !s.served {
		s.served = true
		u.IsBeneficiary = false
	}
	return u, err
}

// racingCreate lets a competing activation insert the same email right
// before our first Create.
type racingCreate struct {
	*userstore.InMemory
	s      *ActivationServiceSuite
	winner *usermodels.User
}

func (r *racingCreate) Create(ctx context.Context, user *usermodels.User) error {
	if r.winner == nil {
		r.winner = r.s.seedUser(user.Email, false)
		return fmt.Errorf("email %s: %w", user.Email, sentinel.ErrAlreadyUsed)
	}
	return r.InMemory.Create(ctx, user)
}
