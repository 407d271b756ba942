package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

func newReport(id string) *domain.ReconciliationReport {
	return &domain.ReconciliationReport{
		ReportID:     id,
		ContestID:    uuid.NewString(),
		ChainID:      31337,
		FromBlock:    1000,
		ToBlock:      2000,
		Status:       domain.ReportPendingReview,
		JobAttemptID: "J1",
		Differences: []domain.ReportDifference{
			{Field: "prizePool", ChainValue: "100", DomainValue: "90"},
		},
		GeneratedAt: 9_000_000,
		UpdatedAt:   9_000_000,
	}
}

func TestReportStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReportStore(pool)
	ctx := context.Background()

	r := newReport("report-1")
	require.NoError(t, store.Create(ctx, r))

	got, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, r.ContestID, got.ContestID)
	assert.Equal(t, domain.ReportPendingReview, got.Status)
	require.Len(t, got.Differences, 1)
	assert.Equal(t, "prizePool", got.Differences[0].Field)
	assert.Empty(t, got.Notifications)
	assert.Empty(t, got.Audit)

	err = store.Create(ctx, newReport("report-1"))
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestReportStore_UpdateAppendsTrails(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReportStore(pool)
	ctx := context.Background()

	r := newReport("report-1")
	require.NoError(t, store.Create(ctx, r))

	r.Status = domain.ReportInReview
	r.Notifications = append(r.Notifications, domain.NotificationRecord{
		Target: "ops-channel", DispatchedAt: 9_100_000, JobAttemptID: "J1",
	})
	r.Audit = append(r.Audit, domain.AuditEntry{
		Actor: "oncall", FromStatus: domain.ReportPendingReview, ToStatus: domain.ReportInReview, At: 9_100_000,
	})
	r.UpdatedAt = 9_100_000
	require.NoError(t, store.Update(ctx, r))

	got, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportInReview, got.Status)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "ops-channel", got.Notifications[0].Target)
	require.Len(t, got.Audit, 1)
	assert.Equal(t, "oncall", got.Audit[0].Actor)

	absent := newReport("report-absent")
	require.ErrorIs(t, store.Update(ctx, absent), storage.ErrNotFound)
}

func TestReportStore_ListByStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReportStore(pool)
	ctx := context.Background()

	stuck := newReport("report-stuck")
	stuck.Status = domain.ReportNeedsAttention
	stuck.GeneratedAt = 10
	require.NoError(t, store.Create(ctx, stuck))

	older := newReport("report-older")
	older.Status = domain.ReportNeedsAttention
	older.GeneratedAt = 5
	require.NoError(t, store.Create(ctx, older))

	resolved := newReport("report-done")
	resolved.Status = domain.ReportResolved
	require.NoError(t, store.Create(ctx, resolved))

	reports, err := store.ListByStatus(ctx, domain.ReportNeedsAttention)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "report-older", reports[0].ReportID, "oldest first")
	assert.Equal(t, "report-stuck", reports[1].ReportID)
}
