package milestone

import (
	"context"
	"errors"
	"fmt"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// RetryMilestone resumes a stuck record. Only needs_attention and retrying
// records may be retried; the job is re-enqueued with the idempotency key as
// its de-dup token and the attempt counter starts over.
func (p *Processor) RetryMilestone(ctx context.Context, idempotencyKey, actor string) error {
	rec, err := p.store.Get(ctx, idempotencyKey)
	if err != nil {
		return err
	}
	if rec.Status != domain.MilestoneNeedsAttention && rec.Status != domain.MilestoneRetrying {
		return fmt.Errorf("%w: milestone %s is %s, only needs_attention or retrying may be retried",
			storage.ErrConflict, idempotencyKey, rec.Status)
	}
	if p.queue == nil {
		return errors.New("no queue configured for manual retry")
	}

	rec.Status = domain.MilestoneRetrying
	rec.Attempts = 0
	rec.LastError = ""
	rec.UpdatedAt = p.now().UnixMilli()
	if err := p.store.Update(ctx, rec); err != nil {
		return err
	}

	job := Job{
		ContestID:      rec.ContestID,
		ChainID:        rec.ChainID,
		Milestone:      rec.Milestone,
		SourceTxHash:   rec.SourceTxHash,
		SourceLogIndex: rec.SourceLogIndex,
		SourceBlock:    rec.SourceBlock,
		Payload:        rec.Payload,
	}
	if err := p.queue.Enqueue(ctx, job, idempotencyKey); err != nil {
		return fmt.Errorf("re-enqueue milestone %s: %w", idempotencyKey, err)
	}
	p.logger.Printf("milestone %s re-enqueued by %s", idempotencyKey, actor)
	return nil
}

// SetContestMode pauses or resumes automatic milestone processing for a
// contest. The control row is persisted so the mode survives restarts and is
// visible to every worker.
func (p *Processor) SetContestMode(ctx context.Context, contestID string, paused bool, actor string) error {
	if p.controls == nil {
		return errors.New("no control store configured")
	}
	if contestID == "" {
		return fmt.Errorf("%w: contestId is required", storage.ErrInvalidInput)
	}

	ctl := &domain.ContestControl{
		ContestID:        contestID,
		MilestonesPaused: paused,
		UpdatedBy:        actor,
		UpdatedAt:        p.now().UnixMilli(),
	}
	if err := p.controls.Upsert(ctx, ctl); err != nil {
		return err
	}
	p.logger.Printf("contest %s milestone processing paused=%t by %s", contestID, paused, actor)
	return nil
}
