package memory

import (
	"context"
	"sort"
	"sync"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// ReportStore is an in-memory implementation of storage.ReportStore.
type ReportStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ReconciliationReport // keyed by report id
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		data: make(map[string]*domain.ReconciliationReport),
	}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

func cloneReport(r *domain.ReconciliationReport) *domain.ReconciliationReport {
	cp := *r
	cp.Differences = append([]domain.ReportDifference(nil), r.Differences...)
	cp.Notifications = append([]domain.NotificationRecord(nil), r.Notifications...)
	cp.Audit = append([]domain.AuditEntry(nil), r.Audit...)
	return &cp
}

// Get retrieves a report by id.
func (s *ReportStore) Get(_ context.Context, reportID string) (*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[reportID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneReport(r), nil
}

// Create inserts a new report. Returns ErrDuplicateKey if reportID exists.
func (s *ReportStore) Create(_ context.Context, r *domain.ReconciliationReport) error {
	if r == nil || r.ReportID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ReportID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.ReportID] = cloneReport(r)
	return nil
}

// Update persists the mutable fields of an existing report.
func (s *ReportStore) Update(_ context.Context, r *domain.ReconciliationReport) error {
	if r == nil || r.ReportID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[r.ReportID]; !ok {
		return storage.ErrNotFound
	}
	s.data[r.ReportID] = cloneReport(r)
	return nil
}

// ListByStatus returns reports in the given status, oldest first.
func (s *ReportStore) ListByStatus(_ context.Context, status string) ([]*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reports []*domain.ReconciliationReport
	for _, r := range s.data {
		if r.Status == status {
			reports = append(reports, cloneReport(r))
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].GeneratedAt < reports[j].GeneratedAt })
	return reports, nil
}
