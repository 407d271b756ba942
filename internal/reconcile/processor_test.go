package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
	"contest-engine/internal/storage/memory"
)

func testReportJob(attemptID string) Job {
	return Job{
		ReportID:    "report-1",
		AttemptID:   attemptID,
		ContestID:   "contest-1",
		ChainID:     31337,
		FromBlock:   1000,
		ToBlock:     2000,
		GeneratedAt: 9_000_000,
		Differences: []domain.ReportDifference{
			{Field: "prizePool", ChainValue: "100", DomainValue: "90"},
		},
		Targets: []string{"ops-channel"},
	}
}

type recordingNotifier struct {
	mu         sync.Mutex
	dispatches [][]string
	fail       bool
}

func (n *recordingNotifier) Dispatch(_ context.Context, _ *domain.ReconciliationReport, targets []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notifier down")
	}
	n.dispatches = append(n.dispatches, targets)
	return nil
}

func newTestReconciler(t *testing.T) (*Processor, *memory.ReportStore, *recordingNotifier) {
	t.Helper()

	store := memory.NewReportStore()
	notifier := &recordingNotifier{}
	proc := NewProcessor(Options{
		Store:         store,
		Notifier:      notifier,
		NotifyEnabled: true,
		Now:           func() time.Time { return time.UnixMilli(9_500_000) },
	})
	return proc, store, notifier
}

func TestProcess_NewReportCreatedAndNotified(t *testing.T) {
	proc, store, notifier := newTestReconciler(t)
	ctx := context.Background()

	outcome, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	report, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportPendingReview, report.Status)
	assert.Equal(t, "J1", report.JobAttemptID)
	require.Len(t, report.Notifications, 1)
	assert.Equal(t, "ops-channel", report.Notifications[0].Target)
	assert.Len(t, notifier.dispatches, 1)
}

func TestProcess_RedeliveryByOtherAttemptIsInert(t *testing.T) {
	proc, store, notifier := newTestReconciler(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)

	// The queue redelivers the same report under a new attempt id.
	outcome, err := proc.Process(ctx, testReportJob("J2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, outcome)

	report, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, "J1", report.JobAttemptID, "J2 must not take ownership")
	assert.Len(t, report.Notifications, 1, "no duplicate notification")
	assert.Len(t, notifier.dispatches, 1)
}

func TestProcess_SameAttemptRedeliverySelfLoops(t *testing.T) {
	proc, store, notifier := newTestReconciler(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)

	outcome, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	report, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportPendingReview, report.Status)
	assert.Len(t, notifier.dispatches, 1, "self-loop update must not re-notify")
}

func TestProcess_ResumesNeedsAttention(t *testing.T) {
	proc, store, notifier := newTestReconciler(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)

	// Operator escalation parks the report.
	require.NoError(t, proc.ApplyStatusChange(ctx, "report-1", domain.ReportNeedsAttention, "oncall", "stale diff"))

	// A fresh attempt may resume a stuck report.
	outcome, err := proc.Process(ctx, testReportJob("J3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	report, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportInReview, report.Status)
	assert.Equal(t, "J3", report.JobAttemptID)
	assert.Zero(t, report.Attempts, "resume restarts the attempt budget")
	assert.Len(t, notifier.dispatches, 2, "resume dispatches again")
}

func TestProcess_TwoConcurrentFirstAttempts(t *testing.T) {
	// Regression: two schedulers fire the same period's job concurrently.
	// Exactly one report row and one notification set must result.
	proc, store, notifier := newTestReconciler(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, attempt := range []string{"J1", "J2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			proc.Process(ctx, testReportJob(id))
		}(attempt)
	}
	wg.Wait()

	report, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Contains(t, []string{"J1", "J2"}, report.JobAttemptID)
	assert.LessOrEqual(t, len(notifier.dispatches), 1, "at most one attempt may notify")
}

// flakyReportStore fails Update according to a scripted sequence.
type flakyReportStore struct {
	storage.ReportStore

	mu    sync.Mutex
	fails []bool
}

func (s *flakyReportStore) Update(ctx context.Context, r *domain.ReconciliationReport) error {
	s.mu.Lock()
	fail := false
	if len(s.fails) > 0 {
		fail = s.fails[0]
		s.fails = s.fails[1:]
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.ReportStore.Update(ctx, r)
}

func TestProcess_EscalatesAfterRepeatedStoreFailures(t *testing.T) {
	mem := memory.NewReportStore()
	// Main-path update fails, failure bookkeeping succeeds, three times over.
	store := &flakyReportStore{
		ReportStore: mem,
		fails:       []bool{true, false, true, false, true, false},
	}
	proc := NewProcessor(Options{
		Store: store,
		Now:   func() time.Time { return time.UnixMilli(9_500_000) },
	})
	ctx := context.Background()

	// Seed the report, then redeliver the same attempt so each Process call
	// goes down the update path.
	seed := domainReportSeed
	require.NoError(t, mem.Create(ctx, &seed))

	for i := 1; i <= 2; i++ {
		_, err := proc.Process(ctx, testReportJob("J1"))
		require.Error(t, err)

		report, getErr := mem.Get(ctx, "report-1")
		require.NoError(t, getErr)
		assert.Equal(t, i, report.Attempts)
		assert.Equal(t, domain.ReportPendingReview, report.Status)
	}

	outcome, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, outcome)

	report, err := mem.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportNeedsAttention, report.Status)
	assert.Contains(t, report.LastError, "connection reset")
}

var domainReportSeed = domain.ReconciliationReport{
	ReportID:     "report-1",
	ContestID:    "contest-1",
	ChainID:      31337,
	FromBlock:    1000,
	ToBlock:      2000,
	Status:       domain.ReportPendingReview,
	JobAttemptID: "J1",
	GeneratedAt:  9_000_000,
	UpdatedAt:    9_000_000,
}

func TestApplyStatusChange_GraphEnforced(t *testing.T) {
	proc, store, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)

	require.NoError(t, proc.ApplyStatusChange(ctx, "report-1", domain.ReportInReview, "oncall", ""))
	require.NoError(t, proc.ApplyStatusChange(ctx, "report-1", domain.ReportResolved, "oncall", "verified"))

	// Resolved cannot reopen to pending_review.
	err = proc.ApplyStatusChange(ctx, "report-1", domain.ReportPendingReview, "oncall", "")
	require.ErrorIs(t, err, storage.ErrConflict)

	// Resolved may still be escalated.
	require.NoError(t, proc.ApplyStatusChange(ctx, "report-1", domain.ReportNeedsAttention, "oncall", "reopened"))

	report, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportNeedsAttention, report.Status)

	require.Len(t, report.Audit, 3)
	last := report.Audit[2]
	assert.Equal(t, domain.ReportResolved, last.FromStatus)
	assert.Equal(t, domain.ReportNeedsAttention, last.ToStatus)
	assert.Equal(t, "oncall", last.Actor)
	assert.Equal(t, "reopened", last.Note)
}

func TestApplyStatusChange_UnknownStatusRejected(t *testing.T) {
	proc, _, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, testReportJob("J1"))
	require.NoError(t, err)

	err = proc.ApplyStatusChange(ctx, "report-1", "archived", "oncall", "")
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestProcess_NotifyDisabledSkipsDispatch(t *testing.T) {
	store := memory.NewReportStore()
	notifier := &recordingNotifier{}
	proc := NewProcessor(Options{
		Store:         store,
		Notifier:      notifier,
		NotifyEnabled: false,
		Now:           func() time.Time { return time.UnixMilli(9_500_000) },
	})

	_, err := proc.Process(context.Background(), testReportJob("J1"))
	require.NoError(t, err)

	report, err := store.Get(context.Background(), "report-1")
	require.NoError(t, err)
	assert.Empty(t, report.Notifications)
	assert.Empty(t, notifier.dispatches)
}
