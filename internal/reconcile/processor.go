package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"contest-engine/internal/domain"
	"contest-engine/internal/observability"
	"contest-engine/internal/storage"
)

// Job is one reconciliation report job consumed from the queue.
type Job struct {
	ReportID    string                    `json:"reportId"`
	AttemptID   string                    `json:"attemptId"` // job attempt id assigned by the queue
	ContestID   string                    `json:"contestId"`
	ChainID     int64                     `json:"chainId"`
	FromBlock   int64                     `json:"rangeFromBlock"`
	ToBlock     int64                     `json:"rangeToBlock"`
	GeneratedAt int64                     `json:"generatedAt"`
	Differences []domain.ReportDifference `json:"differences,omitempty"`
	Targets     []string                  `json:"notifications,omitempty"`
	Metadata    map[string]any            `json:"metadata,omitempty"`
	Payload     map[string]any            `json:"payload,omitempty"`
}

// Notifier dispatches report notifications. Fire-and-forget from the
// processor's viewpoint: dispatch errors are logged, never retried here.
type Notifier interface {
	Dispatch(ctx context.Context, report *domain.ReconciliationReport, targets []string) error
}

// Outcome of one Process call.
type Outcome string

const (
	// OutcomeProcessed means the report row was created or updated.
	OutcomeProcessed Outcome = "processed"
	// OutcomeAlreadyProcessed means another attempt owns a live report; no
	// work and no duplicate notification.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeEscalated means the report reached needs_attention.
	OutcomeEscalated Outcome = "escalated"
)

// DefaultMaxAttempts is the attempt ceiling before escalation.
const DefaultMaxAttempts = 3

// Processor drives reconciliation report persistence and notification.
type Processor struct {
	store         storage.ReportStore
	notifier      Notifier
	notifyEnabled bool
	maxAttempts   int
	metrics       *observability.Metrics
	logger        *log.Logger
	now           func() time.Time
}

// Options configures a Processor.
type Options struct {
	Store         storage.ReportStore
	Notifier      Notifier // optional
	NotifyEnabled bool
	MaxAttempts   int                    // defaults to DefaultMaxAttempts
	Metrics       *observability.Metrics // optional
	Logger        *log.Logger            // optional
	Now           func() time.Time       // optional, for tests
}

// NewProcessor creates a reconciliation report processor.
func NewProcessor(opts Options) *Processor {
	p := &Processor{
		store:         opts.Store,
		notifier:      opts.Notifier,
		notifyEnabled: opts.NotifyEnabled,
		maxAttempts:   opts.MaxAttempts,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p
}

// Process handles one report job. A report already persisted by a different
// job attempt and not stuck in needs_attention counts as already processed:
// no duplicate work, no duplicate notification. A fresh attempt may still
// resume a needs_attention report.
func (p *Processor) Process(ctx context.Context, job Job) (Outcome, error) {
	if job.ReportID == "" || job.ContestID == "" {
		return "", fmt.Errorf("%w: report job missing reportId or contestId", storage.ErrInvalidInput)
	}

	existing, err := p.store.Get(ctx, job.ReportID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return p.recordFailure(ctx, nil, job, err)
	}

	if existing != nil && existing.JobAttemptID != job.AttemptID && existing.Status != domain.ReportNeedsAttention {
		return OutcomeAlreadyProcessed, nil
	}

	now := p.now().UnixMilli()
	resumed := existing != nil && existing.Status == domain.ReportNeedsAttention

	if existing == nil {
		report := &domain.ReconciliationReport{
			ReportID:     job.ReportID,
			ContestID:    job.ContestID,
			ChainID:      job.ChainID,
			FromBlock:    job.FromBlock,
			ToBlock:      job.ToBlock,
			Status:       domain.ReportPendingReview,
			JobAttemptID: job.AttemptID,
			Differences:  job.Differences,
			GeneratedAt:  job.GeneratedAt,
			UpdatedAt:    now,
		}
		if err := p.store.Create(ctx, report); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				// Lost a race: another attempt persisted the report between
				// our read and write. Re-read and apply the same guard.
				raced, getErr := p.store.Get(ctx, job.ReportID)
				if getErr != nil {
					return p.recordFailure(ctx, nil, job, getErr)
				}
				if raced.JobAttemptID != job.AttemptID && raced.Status != domain.ReportNeedsAttention {
					return OutcomeAlreadyProcessed, nil
				}
				existing = raced
			} else {
				return p.recordFailure(ctx, nil, job, err)
			}
		} else {
			p.dispatch(ctx, report, job.Targets, job.AttemptID)
			p.count(OutcomeProcessed)
			return OutcomeProcessed, nil
		}
	}

	// Redelivery of our own attempt, or a fresh attempt resuming a stuck
	// report. needs_attention resumes into in_review (the only non-terminal
	// edge out); a same-attempt redelivery keeps its status via a self-loop.
	next := existing.Status
	if resumed {
		next = domain.ReportInReview
		existing.Attempts = 0
		existing.LastError = ""
	}
	if !CanTransition(existing.Status, next) {
		return "", fmt.Errorf("%w: report %s cannot move %s -> %s", storage.ErrConflict, existing.ReportID, existing.Status, next)
	}

	existing.Status = next
	existing.JobAttemptID = job.AttemptID
	if len(job.Differences) > 0 {
		existing.Differences = job.Differences
	}
	existing.UpdatedAt = now
	if err := p.store.Update(ctx, existing); err != nil {
		return p.recordFailure(ctx, existing, job, err)
	}

	if resumed {
		p.dispatch(ctx, existing, job.Targets, job.AttemptID)
	}
	p.count(OutcomeProcessed)
	return OutcomeProcessed, nil
}

// dispatch sends notifications when enabled, targets are non-empty, and the
// report is new or resumed. The audit trail is appended, never overwritten.
func (p *Processor) dispatch(ctx context.Context, report *domain.ReconciliationReport, targets []string, attemptID string) {
	if !p.notifyEnabled || p.notifier == nil || len(targets) == 0 {
		return
	}

	if err := p.notifier.Dispatch(ctx, report, targets); err != nil {
		p.logger.Printf("report %s notification dispatch failed: %v", report.ReportID, err)
		return
	}

	now := p.now().UnixMilli()
	for _, target := range targets {
		report.Notifications = append(report.Notifications, domain.NotificationRecord{
			Target:       target,
			DispatchedAt: now,
			JobAttemptID: attemptID,
		})
	}
	if err := p.store.Update(ctx, report); err != nil {
		p.logger.Printf("report %s notification audit update failed: %v", report.ReportID, err)
	}
	if p.metrics != nil {
		p.metrics.NotificationsDispatched.Add(float64(len(targets)))
	}
}

// recordFailure advances the attempt counter on the persisted report and
// either escalates or rethrows for the external scheduler.
func (p *Processor) recordFailure(ctx context.Context, report *domain.ReconciliationReport, job Job, cause error) (Outcome, error) {
	if report == nil {
		r, err := p.store.Get(ctx, job.ReportID)
		if err != nil {
			// Nothing persisted to escalate against; rethrow.
			return "", fmt.Errorf("report %s: %w", job.ReportID, cause)
		}
		report = r
	}

	report.Attempts++
	report.LastError = cause.Error()
	report.UpdatedAt = p.now().UnixMilli()

	if report.Attempts >= p.maxAttempts && CanTransition(report.Status, domain.ReportNeedsAttention) {
		report.Status = domain.ReportNeedsAttention
		if err := p.store.Update(ctx, report); err != nil {
			return "", fmt.Errorf("report %s escalation: %v (original: %w)", job.ReportID, err, cause)
		}
		p.logger.Printf("report %s escalated after %d attempts: %v", report.ReportID, report.Attempts, cause)
		p.count(OutcomeEscalated)
		return OutcomeEscalated, nil
	}

	if err := p.store.Update(ctx, report); err != nil {
		return "", fmt.Errorf("report %s failure bookkeeping: %v (original: %w)", job.ReportID, err, cause)
	}
	return "", fmt.Errorf("report %s attempt %d: %w", job.ReportID, report.Attempts, cause)
}

func (p *Processor) count(outcome Outcome) {
	if p.metrics != nil {
		p.metrics.ReportsProcessed.WithLabelValues(string(outcome)).Inc()
	}
}
