// Package jobs schedules background re-processing of applications left in RETRY.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	activation "passculture/internal/activation/service"
	importmodels "passculture/internal/beneficiaryimport/models"
)

// Processor runs activation for one application.
type Processor interface {
	Process(ctx context.Context, req activation.ProcessRequest) (*activation.Result, error)
}

// RetryLister lists imports whose latest status matches.
type RetryLister interface {
	ListCurrentlyIn(ctx context.Context, status importmodels.ImportStatus, limit int) ([]importmodels.BeneficiaryImport, error)
}

// RunTimeout bounds one scheduled pass.
const RunTimeout = 5 * time.Minute

// RetryJob re-runs activation for imports currently in RETRY.
type RetryJob struct {
	imports   RetryLister
	processor Processor
	batchSize int
	logger    *slog.Logger

	// running guards against overlapping passes when one outlasts the schedule.
	running sync.Mutex
}

// NewRetryJob creates a RetryJob that handles at most batchSize imports per pass.
func NewRetryJob(imports RetryLister, processor Processor, batchSize int, logger *slog.Logger) *RetryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryJob{
		imports:   imports,
		processor: processor,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Summary counts what a pass did.
type Summary struct {
	Listed    int
	Processed int
	Failed    int
	Outcomes  map[activation.Outcome]int
}

// RunOnce processes one batch. A failing application is logged and left in
// RETRY for the next pass. A pass already in flight makes this a no-op.
func (j *RetryJob) RunOnce(ctx context.Context) (Summary, error) {
	summary := Summary{Outcomes: make(map[activation.Outcome]int)}
	if !j.running.TryLock() {
		j.logger.InfoContext(ctx, "retry pass already running, skipping")
		return summary, nil
	}
	defer j.running.Unlock()

	pending, err := j.imports.ListCurrentlyIn(ctx, importmodels.StatusRetry, j.batchSize)
	if err != nil {
		return summary, err
	}
	summary.Listed = len(pending)

	for _, imp := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := j.processor.Process(ctx, activation.ProcessRequest{
			ApplicationID: imp.ApplicationID,
			Source:        imp.Source,
			SourceID:      imp.SourceID,
		})
		if err != nil {
			summary.Failed++
			j.logger.WarnContext(ctx, "retry processing failed",
				"application_id", imp.ApplicationID.String(),
				"source", string(imp.Source),
				"error", err,
			)
			continue
		}
		summary.Processed++
		summary.Outcomes[res.Outcome]++
	}
	return summary, nil
}

// Run is the cron entrypoint.
func (j *RetryJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), RunTimeout)
	defer cancel()

	summary, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "retry pass aborted",
			"processed", summary.Processed,
			"failed", summary.Failed,
			"error", err,
		)
		return
	}
	if summary.Listed > 0 {
		j.logger.InfoContext(ctx, "retry pass complete",
			"listed", summary.Listed,
			"processed", summary.Processed,
			"failed", summary.Failed,
			"activated", summary.Outcomes[activation.OutcomeActivated],
		)
	}
}

// Scheduler runs RetryJob on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	job      *RetryJob
	schedule string
	logger   *slog.Logger
}

// NewScheduler wires job into a cron runner that recovers from panics and
// skips a tick while the previous run is still going.
func NewScheduler(job *RetryJob, schedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	return &Scheduler{
		cron:     c,
		job:      job,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the retry job and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddJob(s.schedule, s.job); err != nil {
		s.logger.Error("failed to schedule retry job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled retry job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
