package reconcile

import (
	"context"
	"fmt"

	"contest-engine/internal/domain"
	"contest-engine/internal/storage"
)

// ApplyStatusChange validates and applies an operator-requested status change
// against the transition graph, stamping an audit entry. Illegal edges are
// rejected with a conflict.
func (p *Processor) ApplyStatusChange(ctx context.Context, reportID, toStatus, actor, note string) error {
	switch toStatus {
	case domain.ReportPendingReview, domain.ReportInReview, domain.ReportResolved, domain.ReportNeedsAttention:
	default:
		return fmt.Errorf("%w: unknown report status %q", storage.ErrInvalidInput, toStatus)
	}
	if actor == "" {
		return fmt.Errorf("%w: actor is required", storage.ErrInvalidInput)
	}

	report, err := p.store.Get(ctx, reportID)
	if err != nil {
		return err
	}
	if !CanTransition(report.Status, toStatus) {
		return fmt.Errorf("%w: report %s cannot move %s -> %s", storage.ErrConflict, reportID, report.Status, toStatus)
	}

	now := p.now().UnixMilli()
	report.Audit = append(report.Audit, domain.AuditEntry{
		Actor:      actor,
		FromStatus: report.Status,
		ToStatus:   toStatus,
		Note:       note,
		At:         now,
	})
	report.Status = toStatus
	report.UpdatedAt = now
	return p.store.Update(ctx, report)
}
