package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"passculture/pkg/platform/tx"
)

// InMemory keeps the outbox in a map for tests and the in-memory profile.
type InMemory struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
}

func NewInMemory() *InMemory {
	return &InMemory{events: make(map[uuid.UUID]*Event)}
}

func (s *InMemory) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := event
	stored.Payload = append([]byte(nil), event.Payload...)
	s.events[event.ID] = &stored

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.events, event.ID)
	})
	return nil
}

func (s *InMemory) FetchUnprocessed(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.ProcessedAt == nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, eventID := range ids {
		e, ok := s.events[eventID]
		if !ok || e.ProcessedAt != nil {
			continue
		}
		processedAt := at
		e.ProcessedAt = &processedAt
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			e.ProcessedAt = nil
		})
	}
	return nil
}

// Events returns every event in creation order, processed or not.
func (s *InMemory) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
