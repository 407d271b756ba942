package memory

import (
	"context"
	"sort"
	"sync"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// MilestoneStore is an in-memory implementation of storage.MilestoneStore.
type MilestoneStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MilestoneExecution // keyed by idempotency key
}

// NewMilestoneStore creates a new in-memory milestone store.
func NewMilestoneStore() *MilestoneStore {
	return &MilestoneStore{
		data: make(map[string]*domain.MilestoneExecution),
	}
}

// Compile-time interface check.
var _ storage.MilestoneStore = (*MilestoneStore)(nil)

// Get retrieves a record by idempotency key.
func (s *MilestoneStore) Get(_ context.Context, idempotencyKey string) (*domain.MilestoneExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[idempotencyKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Create inserts a new record. Returns ErrDuplicateKey if the key exists.
func (s *MilestoneStore) Create(_ context.Context, rec *domain.MilestoneExecution) error {
	if rec == nil || rec.IdempotencyKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.IdempotencyKey]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *rec
	s.data[rec.IdempotencyKey] = &cp
	return nil
}

// Update persists status, attempts, lastError and updatedAt for the key.
func (s *MilestoneStore) Update(_ context.Context, rec *domain.MilestoneExecution) error {
	if rec == nil || rec.IdempotencyKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.data[rec.IdempotencyKey]
	if !ok {
		return storage.ErrNotFound
	}
	cp := *stored
	cp.Status = rec.Status
	cp.Attempts = rec.Attempts
	cp.LastError = rec.LastError
	cp.UpdatedAt = rec.UpdatedAt
	s.data[rec.IdempotencyKey] = &cp
	return nil
}

// ListByStatus returns records in the given status, oldest first.
func (s *MilestoneStore) ListByStatus(_ context.Context, status string) ([]*domain.MilestoneExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*domain.MilestoneExecution
	for _, rec := range s.data {
		if rec.Status == status {
			cp := *rec
			recs = append(recs, &cp)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].UpdatedAt < recs[j].UpdatedAt })
	return recs, nil
}

// ControlStore is an in-memory implementation of storage.ControlStore.
type ControlStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ContestControl
}

// NewControlStore creates a new in-memory control store.
func NewControlStore() *ControlStore {
	return &ControlStore{
		data: make(map[string]*domain.ContestControl),
	}
}

var _ storage.ControlStore = (*ControlStore)(nil)

// Get retrieves the control row for a contest.
func (s *ControlStore) Get(_ context.Context, contestID string) (*domain.ContestControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[contestID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Upsert inserts or replaces the control row.
func (s *ControlStore) Upsert(_ context.Context, c *domain.ContestControl) error {
	if c == nil || c.ContestID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.data[c.ContestID] = &cp
	return nil
}
