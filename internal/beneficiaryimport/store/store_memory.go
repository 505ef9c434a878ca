package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"passculture/internal/beneficiaryimport/models"
	id "passculture/pkg/domain"
	"passculture/pkg/platform/sentinel"
	"passculture/pkg/platform/tx"
)

type applicationKey struct {
	applicationID id.ApplicationID
	sourceID      int64
	source        models.Source
}

// InMemory is an append-only import ledger. Sequence numbers come from a
// single counter so ordering never depends on timestamps.
type InMemory struct {
	mu      sync.RWMutex
	seq     int64
	imports map[id.ImportID]*models.BeneficiaryImport
	byKey   map[applicationKey]id.ImportID
}

func NewInMemory() *InMemory {
	return &InMemory{
		imports: make(map[id.ImportID]*models.BeneficiaryImport),
		byKey:   make(map[applicationKey]id.ImportID),
	}
}

func (s *InMemory) FindByApplication(_ context.Context, applicationID id.ApplicationID, sourceID int64, source models.Source) (*models.BeneficiaryImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	importID, ok := s.byKey[applicationKey{applicationID, sourceID, source}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.imports[importID].Clone(), nil
}

// FindLatestByApplicationID returns the import of applicationID holding the
// most recent ledger entry across sources.
func (s *InMemory) FindLatestByApplicationID(_ context.Context, applicationID id.ApplicationID) (*models.BeneficiaryImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best    *models.BeneficiaryImport
		bestSeq int64 = -1
	)
	for _, imp := range s.imports {
		if imp.ApplicationID != applicationID {
			continue
		}
		var seq int64
		if e, ok := imp.Current(); ok {
			seq = e.Seq
		}
		if seq > bestSeq {
			best, bestSeq = imp, seq
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	return best.Clone(), nil
}

func (s *InMemory) Create(ctx context.Context, imp *models.BeneficiaryImport) error {
	key := applicationKey{imp.ApplicationID, imp.SourceID, imp.Source}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[key]; exists {
		return fmt.Errorf("import for application %s: %w", imp.ApplicationID, sentinel.ErrAlreadyUsed)
	}
	stored := imp.Clone()
	stored.History = nil
	s.imports[imp.ID] = stored
	s.byKey[key] = imp.ID

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.imports, imp.ID)
		delete(s.byKey, key)
	})
	return nil
}

func (s *InMemory) SetUser(ctx context.Context, importID id.ImportID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[importID]
	if !ok {
		return sentinel.ErrNotFound
	}
	prev := imp.UserID
	uid := userID
	imp.UserID = &uid

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		imp.UserID = prev
	})
	return nil
}

func (s *InMemory) AppendStatus(ctx context.Context, importID id.ImportID, entry models.StatusEntry) (models.StatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[importID]
	if !ok {
		return models.StatusEntry{}, sentinel.ErrNotFound
	}
	s.seq++
	entry.Seq = s.seq
	imp.History = append(imp.History, entry)

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range imp.History {
			if e.Seq == entry.Seq {
				imp.History = append(imp.History[:i], imp.History[i+1:]...)
				break
			}
		}
	})
	return entry, nil
}

func (s *InMemory) ListByCurrentStatus(_ context.Context, status models.ImportStatus, limit int) ([]models.BeneficiaryImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BeneficiaryImport
	for _, imp := range s.imports {
		if current, ok := imp.CurrentStatus(); ok && current == status {
			out = append(out, *imp.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
