// Package outbox implements the transactional outbox: events are appended in
// the same unit of work as the state change they describe and published to
// Kafka afterwards by Worker.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	AggregateBeneficiaryImport = "beneficiary_import"

	EventBeneficiaryActivated = "beneficiary.activated"
	EventBeneficiaryRejected  = "beneficiary.rejected"
	EventBeneficiaryDuplicate = "beneficiary.duplicate"
)

// Event is one outbox row.
type Event struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// NewEvent marshals payload into an unprocessed event.
func NewEvent(aggregateType, aggregateID, eventType string, payload any, now time.Time) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     now,
	}, nil
}

// Appender writes events through the caller's unit of work.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store is the worker's view of the outbox.
type Store interface {
	Appender
	// FetchUnprocessed returns the oldest unprocessed events. Inside a unit of
	// work the rows stay claimed until it ends.
	FetchUnprocessed(ctx context.Context, limit int) ([]Event, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
