package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"passculture/internal/deposit/models"
	id "passculture/pkg/domain"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/platform/tx"
)

type depositKey struct {
	userID id.UserID
	typ    models.EligibilityType
}

// InMemory keeps deposits keyed by (user, type), mirroring the unique index.
type InMemory struct {
	mu       sync.RWMutex
	deposits map[depositKey]models.Deposit
}

func NewInMemory() *InMemory {
	return &InMemory{deposits: make(map[depositKey]models.Deposit)}
}

func (s *InMemory) FindByUserAndType(_ context.Context, userID id.UserID, t models.EligibilityType) (*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deposits[depositKey{userID, t}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &d, nil
}

func (s *InMemory) ListByUser(_ context.Context, userID id.UserID) ([]models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Deposit
	for k, d := range s.deposits {
		if k.userID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Create(ctx context.Context, deposit *models.Deposit) error {
	key := depositKey{deposit.UserID, deposit.Type}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deposits[key]; exists {
		return fmt.Errorf("deposit %s for user %s: %w", deposit.Type, deposit.UserID, sentinel.ErrAlreadyUsed)
	}
	s.deposits[key] = *deposit

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.deposits, key)
	})
	return nil
}
