// Package service runs the beneficiary activation workflow: it evaluates a
// verified application and, when eligible, creates or updates the user,
// grants the deposit, flips the beneficiary flag and records CREATED in one
// unit of work.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"passculture/internal/activation/metrics"
	importmodels "passculture/internal/beneficiaryimport/models"
	importservice "passculture/internal/beneficiaryimport/service"
	depositmodels "passculture/internal/deposit/models"
	"passculture/internal/eligibility"
	"passculture/internal/featureflags"
	"passculture/internal/identitycheck"
	"passculture/internal/notification"
	"passculture/internal/outbox"
	platformmetrics "passculture/internal/platform/metrics"
	usermodels "passculture/internal/user/models"
	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/email"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/platform/tx"
	"passculture/pkg/requestcontext"
)

const (
	tracerName   = "passculture/activation"
	systemAuthor = "system"
)

// UserStore is the account persistence the workflow needs.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*usermodels.User, error)
	LockAndGet(ctx context.Context, userID id.UserID) (*usermodels.User, error)
	Create(ctx context.Context, user *usermodels.User) error
	Update(ctx context.Context, user *usermodels.User) error
	FindBeneficiaryByIdentity(ctx context.Context, firstName, lastName string, dateOfBirth time.Time) (*usermodels.User, error)
}

// DepositLedger grants deposits through the caller's unit of work.
type DepositLedger interface {
	CreateDeposit(ctx context.Context, user *usermodels.User, t depositmodels.EligibilityType, source string, version *int, flags featureflags.Flags) (*depositmodels.Deposit, error)
}

// ImportLedger is the import status ledger.
type ImportLedger interface {
	Record(ctx context.Context, req importservice.RecordRequest) (*importmodels.BeneficiaryImport, error)
	CurrentStatus(ctx context.Context, applicationID id.ApplicationID) (importmodels.ImportStatus, error)
}

// Outcome is the terminal state of one Process call.
type Outcome string

const (
	OutcomeActivated          Outcome = "activated"
	OutcomeAlreadyProcessed   Outcome = "already_processed"
	OutcomeAlreadyBeneficiary Outcome = "already_beneficiary"
	OutcomeRejected           Outcome = "rejected"
	OutcomeDuplicate          Outcome = "duplicate"
)

// ProcessRequest identifies the application to process. A zero SourceID
// selects the source's default. RequestedType nil means AGE18.
type ProcessRequest struct {
	ApplicationID id.ApplicationID
	Source        importmodels.Source
	SourceID      int64
	RequestedType *depositmodels.EligibilityType
}

// Result describes what Process did. Business rejections are results, not errors.
type Result struct {
	ApplicationID id.ApplicationID
	Outcome       Outcome
	Status        importmodels.ImportStatus
	Reason        eligibility.Reason
	Detail        string
	UserID        *id.UserID
	Deposit       *depositmodels.Deposit
}

// Service orchestrates activation.
type Service struct {
	providers map[importmodels.Source]identitycheck.Provider
	flags     featureflags.Source
	users     UserStore
	deposits  DepositLedger
	ledger    ImportLedger
	outbox    outbox.Appender
	notifier  notification.Notifier
	tx        tx.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	platform  *platformmetrics.Metrics
	tracer    trace.Tracer
}

// Deps groups the collaborators of Service. Provider serves jouve
// applications; other sources are added with WithProvider.
type Deps struct {
	Provider identitycheck.Provider
	Flags    featureflags.Source
	Users    UserStore
	Deposits DepositLedger
	Ledger   ImportLedger
	Outbox   outbox.Appender
	Notifier notification.Notifier
	Tx       tx.Runner
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPlatformMetrics(m *platformmetrics.Metrics) Option {
	return func(s *Service) {
		s.platform = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithProvider routes applications of source to provider.
func WithProvider(source importmodels.Source, provider identitycheck.Provider) Option {
	return func(s *Service) {
		s.providers[source] = provider
	}
}

// New constructs a Service. Every field of deps is required.
func New(deps Deps, opts ...Option) (*Service, error) {
	if deps.Provider == nil || deps.Flags == nil || deps.Users == nil || deps.Deposits == nil ||
		deps.Ledger == nil || deps.Outbox == nil || deps.Notifier == nil || deps.Tx == nil {
		return nil, errors.New("activation service: missing dependency")
	}
	s := &Service{
		providers: map[importmodels.Source]identitycheck.Provider{importmodels.SourceJouve: deps.Provider},
		flags:     deps.Flags,
		users:     deps.Users,
		deposits:  deps.Deposits,
		ledger:    deps.Ledger,
		outbox:    deps.Outbox,
		notifier:  deps.Notifier,
		tx:        deps.Tx,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process runs the workflow for one application. Provider failures return an
// *identitycheck.ApplicationFetchError and leave every store untouched. A
// source with no provider, or a payload the provider attributes to another
// source, fails with CodeValidation before anything is written.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (result *Result, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "activation.Process", trace.WithAttributes(
		attribute.Int64("application_id", int64(req.ApplicationID)),
		attribute.String("source", string(req.Source)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
			s.metrics.IncrementOutcome(string(result.Outcome))
		}
		s.metrics.ObserveProcessLatency(time.Since(start))
		span.End()
	}()

	if req.ApplicationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "application id must be positive")
	}
	if _, err := importmodels.ParseSource(string(req.Source)); err != nil {
		return nil, err
	}
	if req.SourceID == 0 && req.Source == importmodels.SourceJouve {
		req.SourceID = importmodels.JouveSourceID
	}

	app, flags, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if app.Source != req.Source {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("application %s belongs to source %q, not %q", req.ApplicationID, app.Source, req.Source))
	}

	input, err := s.gatherInput(ctx, req, app, flags)
	if err != nil {
		return nil, err
	}
	decision := eligibility.Evaluate(input)

	switch {
	case decision.Reason == eligibility.ReasonAlreadyImported:
		s.logger.InfoContext(ctx, "application already processed",
			"application_id", req.ApplicationID.String(),
			"status", string(input.CurrentStatus),
		)
		return &Result{
			ApplicationID: req.ApplicationID,
			Outcome:       OutcomeAlreadyProcessed,
			Status:        input.CurrentStatus,
			Reason:        decision.Reason,
			Detail:        decision.Detail,
		}, nil
	case decision.Rejected || decision.Duplicate:
		return s.reject(ctx, req, app, input.ExistingUser, decision)
	default:
		return s.activate(ctx, req, app, flags, decision)
	}
}

// fetch loads the application from the source's provider and the flags
// concurrently.
func (s *Service) fetch(ctx context.Context, req ProcessRequest) (*identitycheck.ApplicationPayload, featureflags.Flags, error) {
	provider, ok := s.providers[req.Source]
	if !ok {
		return nil, featureflags.Flags{}, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("no identity-check provider for source %q", req.Source))
	}
	applicationID := req.ApplicationID

	var (
		app   *identitycheck.ApplicationPayload
		flags featureflags.Flags
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		payload, err := provider.GetApplication(gctx, applicationID)
		if err != nil {
			// A flags failure cancels gctx; that is not the provider's fault.
			if gctx.Err() == nil {
				s.metrics.IncrementFetchFailure()
			}
			var fetchErr *identitycheck.ApplicationFetchError
			if errors.As(err, &fetchErr) {
				return fetchErr
			}
			return &identitycheck.ApplicationFetchError{ApplicationID: applicationID, Provider: "unknown", Err: err}
		}
		app = payload
		return nil
	})
	g.Go(func() error {
		loaded, err := s.flags.Load(gctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load feature flags")
		}
		flags = loaded
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, featureflags.Flags{}, err
	}
	return app, flags, nil
}

func (s *Service) gatherInput(ctx context.Context, req ProcessRequest, app *identitycheck.ApplicationPayload, flags featureflags.Flags) (eligibility.EvaluationInput, error) {
	input := eligibility.EvaluationInput{
		Application:   app,
		RequestedType: req.RequestedType,
		Flags:         flags,
		Now:           requestcontext.Now(ctx),
	}

	status, err := s.ledger.CurrentStatus(ctx, req.ApplicationID)
	switch {
	case err == nil:
		input.AlreadyImported = status != importmodels.StatusRetry
		input.CurrentStatus = status
	case errors.Is(err, importmodels.ErrImportNotFound):
	default:
		return input, err
	}

	existing, err := s.users.FindByEmail(ctx, email.Normalize(app.Email))
	switch {
	case err == nil:
		input.ExistingUser = existing
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return input, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user by email")
	}

	if !app.Valid() {
		return input, nil
	}
	dup, err := s.users.FindBeneficiaryByIdentity(ctx, app.FirstName, app.LastName, app.DateOfBirth)
	switch {
	case err == nil:
		input.IdentityDuplicate = dup
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return input, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up duplicate identity")
	}
	return input, nil
}

func depositSource(req ProcessRequest) string {
	return fmt.Sprintf("dossier %s [%s]", req.Source, req.ApplicationID)
}
