package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	activationhandler "passculture/internal/activation/handler"
	"passculture/internal/activation/jobs"
	activationmetrics "passculture/internal/activation/metrics"
	activation "passculture/internal/activation/service"
	importservice "passculture/internal/beneficiaryimport/service"
	importstore "passculture/internal/beneficiaryimport/store"
	depositmodels "passculture/internal/deposit/models"
	depositservice "passculture/internal/deposit/service"
	depositstore "passculture/internal/deposit/store"
	"passculture/internal/featureflags"
	"passculture/internal/identitycheck"
	"passculture/internal/identitycheck/jouve"
	"passculture/internal/jwttoken"
	"passculture/internal/notification"
	"passculture/internal/outbox"
	"passculture/internal/platform/config"
	"passculture/internal/platform/kafka"
	platformmetrics "passculture/internal/platform/metrics"
	"passculture/internal/platform/postgres"
	"passculture/internal/platform/rabbitmq"
	"passculture/internal/platform/redis"
	userstore "passculture/internal/user/store"
	"passculture/pkg/platform/httputil"
	"passculture/pkg/platform/middleware/metadata"
	"passculture/pkg/platform/middleware/request"
	"passculture/pkg/platform/middleware/requesttime"
	"passculture/pkg/platform/tx"
)

const (
	profileMemory   = "memory"
	profilePostgres = "postgres"
)

// stores groups the persistence layer of one storage profile.
type stores struct {
	users    activation.UserStore
	deposits depositservice.Store
	imports  importservice.Store
	outbox   outbox.Store
	tx       tx.Runner
}

// application is the wired service plus everything that needs closing.
type application struct {
	profile  string
	router   http.Handler
	log      *slog.Logger
	worker   *outbox.Worker
	schedule *jobs.Scheduler
	group    *errgroup.Group
	checks   map[string]func(context.Context) error
	closers  []func()
}

// healthTimeout bounds each dependency check of /health.
const healthTimeout = 2 * time.Second

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	app := &application{log: log, checks: make(map[string]func(context.Context) error)}
	ok := false
	defer func() {
		if !ok {
			app.close(context.Background())
		}
	}()

	st, err := app.buildStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	flags, err := app.buildFlags(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := app.buildEmailPublisher(cfg)
	if err != nil {
		return nil, err
	}

	platformMetrics := platformmetrics.New()
	activationMetrics := activationmetrics.New()

	ledger := importservice.NewLedger(st.imports, st.tx, importservice.WithLedgerLogger(log))
	review := importservice.NewReviewService(ledger, st.tx, log)
	deposits := depositservice.New(st.deposits, depositservice.WithLogger(log))
	notifier := notification.NewEmailNotifier(publisher, cfg.RabbitMQ.Exchange, log)

	svc, err := activation.New(activation.Deps{
		Provider: buildProvider(cfg, log),
		Flags:    flags,
		Users:    st.users,
		Deposits: deposits,
		Ledger:   ledger,
		Outbox:   st.outbox,
		Notifier: notifier,
		Tx:       st.tx,
	},
		activation.WithLogger(log),
		activation.WithMetrics(activationMetrics),
		activation.WithPlatformMetrics(platformMetrics),
	)
	if err != nil {
		return nil, err
	}

	if err := app.buildOutboxWorker(ctx, cfg, st, platformMetrics); err != nil {
		return nil, err
	}

	retry := jobs.NewRetryJob(ledger, svc, cfg.Jobs.RetryBatchSize, log)
	app.schedule = jobs.NewScheduler(retry, cfg.Jobs.RetrySchedule, log)

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	handler := activationhandler.New(svc, ledger, deposits, review, jwttoken.NewJWTServiceAdapter(jwtService), log)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(request.Metrics(platformMetrics))
	r.Get("/health", app.handleHealth)
	r.Handle("/metrics", platformmetrics.Handler())
	handler.Register(r)
	app.router = r

	ok = true
	return app, nil
}

func (a *application) buildStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Postgres.URL == "" {
		a.profile = profileMemory
		a.log.Warn("POSTGRES_URL not set, using in-memory stores")
		return &stores{
			users:    userstore.NewInMemory(),
			deposits: depositstore.NewInMemory(),
			imports:  importstore.NewInMemory(),
			outbox:   outbox.NewInMemory(),
			tx:       tx.NewInMemory(cfg.Server.TxTimeout),
		}, nil
	}

	a.profile = profilePostgres
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.checks["postgres"] = db.PingContext
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return postgresStores(db, cfg), nil
}

func postgresStores(db *sql.DB, cfg *config.Config) *stores {
	return &stores{
		users:    userstore.NewPostgres(db),
		deposits: depositstore.NewPostgres(db),
		imports:  importstore.NewPostgres(db),
		outbox:   outbox.NewPostgres(db),
		tx:       tx.NewPostgres(db, cfg.Server.TxTimeout),
	}
}

func staticFlags(cfg config.FlagsConfig) featureflags.Flags {
	return featureflags.Flags{
		DepositVersions: map[depositmodels.EligibilityType]int{
			depositmodels.EligibilityAge18:    cfg.Age18DepositVersion,
			depositmodels.EligibilityUnderage: cfg.UnderageDepositVersion,
		},
		UnderageEligibility: cfg.UnderageEligibility,
	}
}

func (a *application) buildFlags(ctx context.Context, cfg *config.Config) (featureflags.Source, error) {
	defaults := staticFlags(cfg.Flags)
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return featureflags.Static{Flags: defaults}, nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.checks["redis"] = client.Health
	return featureflags.NewRedisStore(client.Client, cfg.Redis.FlagsKey, defaults), nil
}

func (a *application) buildEmailPublisher(cfg *config.Config) (rabbitmq.Publisher, error) {
	if cfg.RabbitMQ.URL == "" {
		a.log.Warn("RABBITMQ_URL not set, transactional emails are logged only")
		return &rabbitmq.LogPublisher{Logger: a.log}, nil
	}
	producer, err := rabbitmq.NewProducer(cfg.RabbitMQ.URL, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, producer.Close)
	return producer, nil
}

func buildProvider(cfg *config.Config, log *slog.Logger) identitycheck.Provider {
	if cfg.Jouve.Host == "" {
		log.Warn("JOUVE_HOST not set, using the in-memory identity-check provider")
		return identitycheck.NewInMemoryProvider()
	}
	return jouve.New(jouve.Config{
		Host:     cfg.Jouve.Host,
		Username: cfg.Jouve.Username,
		Password: cfg.Jouve.Password,
		VaultKey: cfg.Jouve.VaultKey,
		Timeout:  cfg.Jouve.Timeout,
	})
}

func (a *application) buildOutboxWorker(ctx context.Context, cfg *config.Config, st *stores, m *platformmetrics.Metrics) error {
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	if producer == nil {
		a.log.Warn("KAFKA_BROKERS not set, outbox events stay unpublished")
		return nil
	}
	a.closers = append(a.closers, producer.Close)
	a.checks["kafka"] = producer.Health
	if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions); err != nil {
		return fmt.Errorf("ensure topic: %w", err)
	}
	a.worker = outbox.NewWorker(st.outbox, st.tx, producer,
		outbox.WithPollInterval(cfg.Kafka.PollInterval),
		outbox.WithBatchSize(cfg.Kafka.BatchSize),
		outbox.WithMetrics(m),
		outbox.WithLogger(a.log),
	)
	return nil
}

// handleHealth reports 503 when any configured backend fails its check.
func (a *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "storage": a.profile}
	for name, check := range a.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			a.log.WarnContext(r.Context(), "health check failed", "dependency", name, "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = "down"
			continue
		}
		body[name] = "up"
	}
	httputil.WriteJSON(w, status, body)
}

// start launches the background workers. They stop when ctx is cancelled.
func (a *application) start(ctx context.Context) {
	a.group, ctx = errgroup.WithContext(ctx)
	if a.worker != nil {
		a.group.Go(func() error {
			return a.worker.Run(ctx)
		})
	}
	if err := a.schedule.Start(); err != nil {
		a.log.Error("retry job disabled", "error", err)
	}
}

func (a *application) close(ctx context.Context) {
	if a.schedule != nil {
		select {
		case <-a.schedule.Stop().Done():
		case <-ctx.Done():
			a.log.Warn("retry job still running at shutdown")
		}
	}
	if a.group != nil {
		if err := a.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("background worker failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
