// Package milestone processes discrete on-chain milestone jobs with
// at-most-once side effects. Jobs arrive from an at-least-once delivery queue;
// coordination between concurrent workers relies entirely on the milestone
// record's unique idempotency key in the shared store.
package milestone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"contest-engine/internal/domain"
	"contest-engine/internal/idhash"
	"contest-engine/internal/observability"
	"contest-engine/internal/storage"
)

// Job is one durable milestone job consumed from the queue.
type Job struct {
	ContestID      string         `json:"contestId"`
	ChainID        int64          `json:"chainId"`
	Milestone      string         `json:"milestone"`
	SourceTxHash   string         `json:"sourceTxHash"`
	SourceLogIndex int64          `json:"sourceLogIndex"`
	SourceBlock    int64          `json:"sourceBlockNumber"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// IdempotencyKey returns the job's deterministic idempotency key.
func (j Job) IdempotencyKey() string {
	return idhash.ComputeMilestoneKey(j.ContestID, j.ChainID, j.Milestone, j.SourceTxHash, j.SourceLogIndex)
}

// Handler executes a milestone's side effect. Handlers are expected to be
// idempotent at the domain layer (write-engine noops), but the processor
// still guarantees at most one successful execution per idempotency key.
type Handler func(ctx context.Context, job Job) error

// Queue re-enqueues jobs for redelivery. The queue deduplicates on the token.
type Queue interface {
	Enqueue(ctx context.Context, job Job, dedupToken string) error
}

// Outcome of one Process call.
type Outcome string

const (
	// OutcomeSucceeded means the side effect ran and the record is terminal.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeAlreadyProcessed means a previous attempt already succeeded; no
	// side effect was performed.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeEscalated means the record reached needs_attention; automatic
	// retries stop and a human must intervene.
	OutcomeEscalated Outcome = "escalated"
)

// ErrPaused is returned when milestone processing is paused for the contest.
// The scheduler should redeliver later; no attempt is consumed.
var ErrPaused = errors.New("milestone processing paused for contest")

// DefaultMaxAttempts is the attempt ceiling before escalation.
const DefaultMaxAttempts = 3

// Processor consumes milestone jobs and drives the execution record's state
// machine. It never sleeps or schedules redelivery itself; failures are
// persisted and rethrown so the external scheduler governs timing.
type Processor struct {
	store       storage.MilestoneStore
	controls    storage.ControlStore
	queue       Queue
	handlers    map[string]Handler
	maxAttempts int
	metrics     *observability.Metrics
	logger      *log.Logger
	now         func() time.Time
}

// Options configures a Processor.
type Options struct {
	Store       storage.MilestoneStore
	Controls    storage.ControlStore
	Queue       Queue
	MaxAttempts int                    // defaults to DefaultMaxAttempts
	Metrics     *observability.Metrics // optional
	Logger      *log.Logger            // optional
	Now         func() time.Time       // optional, for tests
}

// NewProcessor creates a milestone processor.
func NewProcessor(opts Options) *Processor {
	p := &Processor{
		store:       opts.Store,
		controls:    opts.Controls,
		queue:       opts.Queue,
		handlers:    make(map[string]Handler),
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
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

// Register binds a handler to a milestone name.
func (p *Processor) Register(milestoneName string, h Handler) {
	p.handlers[milestoneName] = h
}

// Process executes one job. Returns the outcome, and a non-nil error exactly
// when the external scheduler should redeliver the job.
func (p *Processor) Process(ctx context.Context, job Job) (Outcome, error) {
	if job.ContestID == "" || job.Milestone == "" || job.SourceTxHash == "" {
		return "", fmt.Errorf("%w: milestone job missing origin fields", storage.ErrInvalidInput)
	}
	key := job.IdempotencyKey()

	paused, err := p.isPaused(ctx, job.ContestID)
	if err != nil {
		return "", err
	}
	if paused {
		return "", fmt.Errorf("%w: contest %s", ErrPaused, job.ContestID)
	}

	rec, err := p.store.Get(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	if rec == nil {
		rec = &domain.MilestoneExecution{
			IdempotencyKey: key,
			ContestID:      job.ContestID,
			ChainID:        job.ChainID,
			Milestone:      job.Milestone,
			SourceTxHash:   job.SourceTxHash,
			SourceLogIndex: job.SourceLogIndex,
			SourceBlock:    job.SourceBlock,
			Status:         domain.MilestoneInProgress,
			Attempts:       0,
			Payload:        job.Payload,
			UpdatedAt:      p.now().UnixMilli(),
		}
		if err := p.store.Create(ctx, rec); err != nil {
			if !errors.Is(err, storage.ErrDuplicateKey) {
				return "", err
			}
			// Lost a race with a concurrent worker; read its record.
			rec, err = p.store.Get(ctx, key)
			if err != nil {
				return "", err
			}
		}
	}

	switch rec.Status {
	case domain.MilestoneSucceeded:
		p.count(OutcomeAlreadyProcessed)
		return OutcomeAlreadyProcessed, nil
	case domain.MilestoneNeedsAttention:
		// Terminal for automatic processing; only retryMilestone resumes it.
		return OutcomeEscalated, nil
	}

	if rec.Attempts > 0 && rec.Status != domain.MilestoneRetrying {
		rec.Status = domain.MilestoneRetrying
		rec.UpdatedAt = p.now().UnixMilli()
		if err := p.store.Update(ctx, rec); err != nil {
			return "", err
		}
	}

	handler, ok := p.handlers[job.Milestone]
	if !ok {
		rec.Status = domain.MilestoneNeedsAttention
		rec.LastError = fmt.Sprintf("no handler registered for milestone %q", job.Milestone)
		rec.UpdatedAt = p.now().UnixMilli()
		if err := p.store.Update(ctx, rec); err != nil {
			return "", err
		}
		p.count(OutcomeEscalated)
		return OutcomeEscalated, nil
	}

	if err := handler(ctx, job); err != nil {
		return p.recordFailure(ctx, rec, err)
	}

	rec.Status = domain.MilestoneSucceeded
	rec.LastError = ""
	rec.UpdatedAt = p.now().UnixMilli()
	if err := p.store.Update(ctx, rec); err != nil {
		return "", err
	}
	p.count(OutcomeSucceeded)
	return OutcomeSucceeded, nil
}

// recordFailure advances the attempt counter and either escalates or rethrows.
func (p *Processor) recordFailure(ctx context.Context, rec *domain.MilestoneExecution, cause error) (Outcome, error) {
	rec.Attempts++
	rec.LastError = cause.Error()
	rec.UpdatedAt = p.now().UnixMilli()

	if rec.Attempts >= p.maxAttempts {
		rec.Status = domain.MilestoneNeedsAttention
		if err := p.store.Update(ctx, rec); err != nil {
			return "", err
		}
		p.logger.Printf("milestone %s escalated after %d attempts: %v", rec.IdempotencyKey, rec.Attempts, cause)
		p.count(OutcomeEscalated)
		return OutcomeEscalated, nil
	}

	rec.Status = domain.MilestoneRetrying
	if err := p.store.Update(ctx, rec); err != nil {
		return "", err
	}
	// Rethrow so the external scheduler governs redelivery timing.
	return "", fmt.Errorf("milestone %s attempt %d: %w", rec.IdempotencyKey, rec.Attempts, cause)
}

func (p *Processor) isPaused(ctx context.Context, contestID string) (bool, error) {
	if p.controls == nil {
		return false, nil
	}
	ctl, err := p.controls.Get(ctx, contestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ctl.MilestonesPaused, nil
}

func (p *Processor) count(outcome Outcome) {
	if p.metrics != nil {
		p.metrics.MilestonesProcessed.WithLabelValues(string(outcome)).Inc()
	}
}
