package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"passculture/internal/user/models"
	id "passculture/pkg/domain"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/platform/tx"
)

// InMemory is a user store for tests and the in-memory server profile.
// Mutations made inside a tx.InMemory unit of work are undone on rollback.
type InMemory struct {
	mu      sync.RWMutex
	users   map[id.UserID]*models.User
	byEmail map[string]id.UserID
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[id.UserID]*models.User),
		byEmail: make(map[string]id.UserID),
	}
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byEmail[email]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.users[userID].Clone(), nil
}

// LockAndGet returns the user. Exclusivity comes from the surrounding unit of work.
func (s *InMemory) LockAndGet(ctx context.Context, userID id.UserID) (*models.User, error) {
	return s.FindByID(ctx, userID)
}

func (s *InMemory) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[user.Email]; taken {
		return fmt.Errorf("email %s: %w", user.Email, sentinel.ErrAlreadyUsed)
	}
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, sentinel.ErrAlreadyUsed)
	}
	s.users[user.ID] = user.Clone()
	s.byEmail[user.Email] = user.ID

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.users, user.ID)
		delete(s.byEmail, user.Email)
	})
	return nil
}

func (s *InMemory) Update(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.users[user.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if owner, taken := s.byEmail[user.Email]; taken && owner != user.ID {
		return fmt.Errorf("email %s: %w", user.Email, sentinel.ErrAlreadyUsed)
	}
	delete(s.byEmail, prev.Email)
	s.users[user.ID] = user.Clone()
	s.byEmail[user.Email] = user.ID

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byEmail, user.Email)
		s.users[prev.ID] = prev
		s.byEmail[prev.Email] = prev.ID
	})
	return nil
}

// FindBeneficiaryByIdentity finds a beneficiary with the same names
// (case-insensitive) and calendar date of birth.
func (s *InMemory) FindBeneficiaryByIdentity(_ context.Context, firstName, lastName string, dateOfBirth time.Time) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if !u.IsBeneficiary || u.DateOfBirth == nil {
			continue
		}
		if strings.EqualFold(u.FirstName, strings.TrimSpace(firstName)) &&
			strings.EqualFold(u.LastName, strings.TrimSpace(lastName)) &&
			sameDate(*u.DateOfBirth, dateOfBirth) {
			return u.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
