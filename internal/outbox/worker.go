package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"passculture/internal/platform/kafka"
	"passculture/internal/platform/metrics"
	"passculture/pkg/platform/tx"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// Publisher produces outbox events to the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Worker polls the outbox and publishes unprocessed events. Delivery is at
// least once: a batch is marked processed only after the broker acknowledged it.
type Worker struct {
	store     Store
	tx        tx.Runner
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type WorkerOption func(w *Worker)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(store Store, runner tx.Runner, publisher Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     store,
		tx:        runner,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "outbox batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessBatch publishes one batch and returns how many events it published.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	var published int
	err := w.tx.RunInTx(ctx, func(txCtx context.Context) error {
		events, err := w.store.FetchUnprocessed(txCtx, w.batchSize)
		if err != nil {
			return err
		}
		w.metrics.SetOutboxBacklog(len(events))
		if len(events) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, len(events))
		ids := make([]uuid.UUID, len(events))
		for i, e := range events {
			msgs[i] = kafka.Message{
				Key:   e.AggregateID,
				Value: e.Payload,
				Headers: map[string]string{
					"event_id":       e.ID.String(),
					"event_type":     e.EventType,
					"aggregate_type": e.AggregateType,
				},
			}
			ids[i] = e.ID
		}
		if err := w.publisher.Publish(txCtx, msgs...); err != nil {
			w.metrics.IncrementOutboxFailures()
			return errors.Join(errPublish, err)
		}
		if err := w.store.MarkProcessed(txCtx, ids, time.Now()); err != nil {
			return err
		}
		published = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		w.logger.DebugContext(ctx, "outbox batch published", "count", published)
	}
	return published, nil
}

var errPublish = errors.New("outbox publish failed")
